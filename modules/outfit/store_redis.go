package outfit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps session state in Redis so several server instances can
// share it. Every key carries the session TTL; busy and generating flags are
// SET NX keys.
//
// Key layout:
//
//	outfit:session:{sid}                      hash  created_at, source_*
//	outfit:session:{sid}:generating           string
//	outfit:session:{sid}:batch                list  outfit ids in category order
//	outfit:session:{sid}:outfit:{oid}         hash  category, image
//	outfit:session:{sid}:outfit:{oid}:busy    string
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// touchScript refreshes the TTL of the session hash, the batch list and every
// outfit hash in it. Returns 0 when the session does not exist.
//
// KEYS[1] session key, KEYS[2] batch key; ARGV[1] ttl seconds
var touchScript = redis.NewScript(`
if redis.call("EXPIRE", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("EXPIRE", KEYS[2], ARGV[1])
for _, id in ipairs(redis.call("LRANGE", KEYS[2], 0, -1)) do
	redis.call("EXPIRE", KEYS[1] .. ":outfit:" .. id, ARGV[1])
end
return 1
`)

// setSourceScript stores the source image and discards the batch, unless a
// generation is running. Returns 0 for a missing session, -1 while generating.
//
// KEYS[1] session key, KEYS[2] generating key, KEYS[3] batch key
// ARGV[1..3] data, mime, name; ARGV[4] ttl seconds
var setSourceScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
	return -1
end
for _, id in ipairs(redis.call("LRANGE", KEYS[3], 0, -1)) do
	local outfit = KEYS[1] .. ":outfit:" .. id
	redis.call("DEL", outfit, outfit .. ":busy")
end
redis.call("DEL", KEYS[3])
redis.call("HSET", KEYS[1], "source_data", ARGV[1], "source_mime", ARGV[2], "source_name", ARGV[3])
redis.call("EXPIRE", KEYS[1], ARGV[4])
return 1
`)

func (s *RedisStore) ttlSeconds() int64 {
	if secs := int64(s.ttl / time.Second); secs > 0 {
		return secs
	}
	return 1
}

func sessionKey(sid string) string     { return "outfit:session:" + sid }
func generatingKey(sid string) string  { return sessionKey(sid) + ":generating" }
func batchKey(sid string) string       { return sessionKey(sid) + ":batch" }
func outfitKey(sid, oid string) string { return sessionKey(sid) + ":outfit:" + oid }
func busyKey(sid, oid string) string   { return outfitKey(sid, oid) + ":busy" }

func (s *RedisStore) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, sessionKey(id), "created_at", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, sessionKey(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// touch verifies the session exists and refreshes the TTL of all its keys.
func (s *RedisStore) touch(ctx context.Context, sid string) error {
	found, err := touchScript.Run(ctx, s.rdb, []string{sessionKey(sid), batchKey(sid)}, s.ttlSeconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	if found == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// clearBatch removes every outfit key of the session.
func (s *RedisStore) clearBatch(ctx context.Context, sid string) error {
	ids, err := s.rdb.LRange(ctx, batchKey(sid), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read batch: %w", err)
	}
	keys := []string{batchKey(sid)}
	for _, id := range ids {
		keys = append(keys, outfitKey(sid, id), busyKey(sid, id))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear batch: %w", err)
	}
	return nil
}

func (s *RedisStore) SetSource(ctx context.Context, sessionID string, source SourceImage) error {
	result, err := setSourceScript.Run(ctx, s.rdb,
		[]string{sessionKey(sessionID), generatingKey(sessionID), batchKey(sessionID)},
		source.Data, source.MimeType, source.FileName, s.ttlSeconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to store source image: %w", err)
	}
	switch result {
	case 0:
		return ErrSessionNotFound
	case -1:
		return ErrGenerationInProgress
	}
	return nil
}

func (s *RedisStore) Source(ctx context.Context, sessionID string) (*SourceImage, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return nil, err
	}
	fields, err := s.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read source image: %w", err)
	}
	if fields["source_data"] == "" {
		return nil, nil
	}
	return &SourceImage{
		Data:     fields["source_data"],
		MimeType: fields["source_mime"],
		FileName: fields["source_name"],
	}, nil
}

func (s *RedisStore) BeginGeneration(ctx context.Context, sessionID string) (bool, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return false, err
	}
	acquired, err := s.rdb.SetNX(ctx, generatingKey(sessionID), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set generation flag: %w", err)
	}
	if !acquired {
		return false, nil
	}
	if err := s.clearBatch(ctx, sessionID); err != nil {
		s.rdb.Del(ctx, generatingKey(sessionID))
		return false, err
	}
	return true, nil
}

func (s *RedisStore) FinishGeneration(ctx context.Context, sessionID string, batch Batch) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, o := range batch {
			pipe.HSet(ctx, outfitKey(sessionID, o.ID), "category", string(o.Category), "image", o.ImageBase64)
			pipe.Expire(ctx, outfitKey(sessionID, o.ID), s.ttl)
			pipe.RPush(ctx, batchKey(sessionID), o.ID)
		}
		pipe.Expire(ctx, batchKey(sessionID), s.ttl)
		pipe.Del(ctx, generatingKey(sessionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store batch: %w", err)
	}
	return nil
}

func (s *RedisStore) Batch(ctx context.Context, sessionID string) (Batch, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return nil, err
	}
	ids, err := s.rdb.LRange(ctx, batchKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	batch := make(Batch, 0, len(ids))
	for _, id := range ids {
		o, err := s.readOutfit(ctx, sessionID, id)
		if errors.Is(err, ErrOutfitNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, o)
	}
	return batch, nil
}

func (s *RedisStore) readOutfit(ctx context.Context, sid, oid string) (Outfit, error) {
	fields, err := s.rdb.HGetAll(ctx, outfitKey(sid, oid)).Result()
	if err != nil {
		return Outfit{}, fmt.Errorf("failed to read outfit: %w", err)
	}
	if len(fields) == 0 {
		return Outfit{}, ErrOutfitNotFound
	}
	busy, err := s.rdb.Exists(ctx, busyKey(sid, oid)).Result()
	if err != nil {
		return Outfit{}, fmt.Errorf("failed to read busy flag: %w", err)
	}
	return Outfit{
		ID:          oid,
		Category:    Category(fields["category"]),
		ImageBase64: fields["image"],
		Busy:        busy > 0,
	}, nil
}

func (s *RedisStore) Outfit(ctx context.Context, sessionID, outfitID string) (Outfit, error) {
	if err := s.touch(ctx, sessionID); err != nil {
		return Outfit{}, err
	}
	return s.readOutfit(ctx, sessionID, outfitID)
}

func (s *RedisStore) AcquireOutfit(ctx context.Context, sessionID, outfitID string) (Outfit, bool, error) {
	o, err := s.Outfit(ctx, sessionID, outfitID)
	if err != nil {
		return Outfit{}, false, err
	}
	acquired, err := s.rdb.SetNX(ctx, busyKey(sessionID, outfitID), "1", s.ttl).Result()
	if err != nil {
		return Outfit{}, false, fmt.Errorf("failed to set busy flag: %w", err)
	}
	o.Busy = true
	return o, acquired, nil
}

func (s *RedisStore) ReleaseOutfit(ctx context.Context, sessionID, outfitID string, imageBase64 *string) (Outfit, error) {
	exists, err := s.rdb.Exists(ctx, outfitKey(sessionID, outfitID)).Result()
	if err != nil {
		return Outfit{}, fmt.Errorf("failed to read outfit: %w", err)
	}
	if exists == 0 {
		s.rdb.Del(ctx, busyKey(sessionID, outfitID))
		return Outfit{}, ErrOutfitNotFound
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if imageBase64 != nil {
			pipe.HSet(ctx, outfitKey(sessionID, outfitID), "image", *imageBase64)
		}
		pipe.Expire(ctx, outfitKey(sessionID, outfitID), s.ttl)
		pipe.Del(ctx, busyKey(sessionID, outfitID))
		return nil
	})
	if err != nil {
		return Outfit{}, fmt.Errorf("failed to release outfit: %w", err)
	}
	return s.readOutfit(ctx, sessionID, outfitID)
}
