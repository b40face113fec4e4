package engine_test

import (
	"github.com/XavierBriggs/Iris/pkg/contracts"
	"github.com/XavierBriggs/Iris/pkg/models"
)

func pushMessage(u models.ScoreUpdate) contracts.PushMessage {
	return contracts.PushMessage{Kind: contracts.PushUpdate, Update: u}
}
