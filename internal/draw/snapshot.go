package draw

import "github.com/google/uuid"

// SelectedWinner описывает выбранного победителя в снимке сессии.
type SelectedWinner struct {
	Position      int    `json:"position"`
	ParticipantID string `json:"participantId"`
}

// Snapshot описывает сериализуемый снимок сессии для отображения хода розыгрыша.
type Snapshot struct {
	ID              uuid.UUID        `json:"id"`
	Status          Status           `json:"status"`
	CurrentPosition int              `json:"currentPosition"`
	WinnersCount    int              `json:"winnersCount"`
	SelectedWinners []SelectedWinner `json:"selectedWinners"`
	RemainingPool   []string         `json:"remainingPool"`
}

// Snapshot возвращает снимок текущего состояния сессии.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:              s.id,
		Status:          s.status,
		CurrentPosition: s.CurrentPosition(),
		WinnersCount:    s.winnersCount,
		SelectedWinners: make([]SelectedWinner, 0, len(s.selected)),
		RemainingPool:   make([]string, 0, len(s.remaining)),
	}
	for _, sel := range s.selected {
		snap.SelectedWinners = append(snap.SelectedWinners, SelectedWinner{
			Position:      sel.Position,
			ParticipantID: sel.Participant.ID,
		})
	}
	for _, p := range s.remaining {
		snap.RemainingPool = append(snap.RemainingPool, p.ID)
	}
	return snap
}
