package models

import (
	"encoding/base64"
	"strings"
)

type PageInfo struct {
	StartCursor string `json:"startCursor"`
	EndCursor   string `json:"endCursor"`
	HasNextPage *bool  `json:"hasNextPage,omitempty"`
}

func DecodeCursor(cursor *string) (string, error) {
	decodedCursor := ""
	if cursor != nil {
		b, err := base64.StdEncoding.DecodeString(*cursor)
		if err != nil {
			return decodedCursor, err
		}
		decodedCursor = string(b)
	}
	return decodedCursor, nil
}

// DecodeCompositeCursor splits "<timestamp>|<id>". Invalid cursors decode to empty values.
func DecodeCompositeCursor(cursor *string) (string, string) {
	if cursor == nil || *cursor == "" {
		return "", ""
	}

	decoded, err := DecodeCursor(cursor)
	if err != nil {
		return "", ""
	}

	parts := strings.SplitN(decoded, "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", ""
	}
	return parts[0], parts[1]
}

func EncodeCursor(cursor string) string {
	return base64.StdEncoding.EncodeToString([]byte(cursor))
}

func EncodeCompositeCursor(timestamp string, id string) string {
	return EncodeCursor(timestamp + "|" + id)
}
