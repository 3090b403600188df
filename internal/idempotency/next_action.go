package idempotency

import (
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
)

// NextAction is the outcome of Gate.Begin. It is either StartProcessing or
// ReturnSavedResponse.
type NextAction interface {
	nextAction()
}

// StartProcessing means the key was reserved by this call. The caller owns Tx
// and must finish with Gate.SaveResponse or Gate.Abort.
type StartProcessing struct {
	Tx store.Tx
}

// ReturnSavedResponse means an earlier execution already committed a response
// for the key. The caller must emit Response unchanged.
type ReturnSavedResponse struct {
	Response *models.SavedResponse
}

func (StartProcessing) nextAction()     {}
func (ReturnSavedResponse) nextAction() {}
