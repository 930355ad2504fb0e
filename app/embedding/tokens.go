package embedding

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var encoder *tiktoken.Tiktoken

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	var err error
	encoder, err = tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		panic(fmt.Sprintf("error loading encoding: %v", err))
	}
}

// CountTokens returns the number of cl100k_base tokens in `s`, the encoding used by OpenAI's embedding models.
func CountTokens(s string) int {
	return len(encoder.Encode(s, nil, nil))
}

// EstimateTokens approximates the token count of `s` as 1.3 tokens per whitespace-separated word.
func EstimateTokens(s string) float64 {
	return float64(len(strings.Fields(s))) * 1.3
}
