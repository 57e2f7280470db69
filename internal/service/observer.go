package service

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-system/internal/draw"
)

func (s *Service) positionLogger(weeklyID int64) draw.Observer {
	return draw.ObserverFunc(func(sessionID uuid.UUID, sel draw.Selection, remaining int) {
		s.logger.Debug("position settled",
			zap.Int64("weeklyRaffleID", weeklyID),
			zap.String("sessionID", sessionID.String()),
			zap.Int("position", sel.Position),
			zap.String("participantID", sel.Participant.ID),
			zap.Int("remaining", remaining),
		)
	})
}
