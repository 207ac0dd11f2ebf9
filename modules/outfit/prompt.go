package outfit

import (
	"fmt"
	"strings"
)

// BuildOutfitPrompt - 카테고리별 flat-lay 코디 생성 지시문
func BuildOutfitPrompt(category Category) string {
	return fmt.Sprintf(
		"Create a complete, stylish, and cohesive 'flat-lay' style outfit for a %s occasion, featuring this clothing item. "+
			"Ensure all items are clearly visible against a clean, neutral background.",
		strings.ToLower(string(category)),
	)
}
