package matcher

import (
	"encoding/json"
	"strconv"

	"github.com/chainhook/pipeline/pkg/types"
)

func marshalPayload(p types.WebhookPayload) ([]byte, error) {
	return json.Marshal(p)
}

func chainLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
