package gateway

import (
	"encoding/json"

	"feastline/internal/domain"
)

func encodeServerMessage(ev domain.Event) ([]byte, error) {
	return json.Marshal(serverMessage{Event: string(ev.Kind), Data: ev.Order})
}
