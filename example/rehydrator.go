package example

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xiaoxuxiansheng/gotxm"
)

// ParticipantRegistry 参与者注册中心，恢复流程通过它按 id 找回参与者句柄
type ParticipantRegistry struct {
	mux          sync.RWMutex
	participants map[string]gotxm.Participant
}

func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{
		participants: make(map[string]gotxm.Participant),
	}
}

func (p *ParticipantRegistry) Register(participant gotxm.Participant) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	if _, ok := p.participants[participant.ID()]; ok {
		return errors.New("repeat participant id")
	}
	p.participants[participant.ID()] = participant
	return nil
}

func (p *ParticipantRegistry) Participants(participantIDs ...string) ([]gotxm.Participant, error) {
	participants := make([]gotxm.Participant, 0, len(participantIDs))

	p.mux.RLock()
	defer p.mux.RUnlock()

	for _, participantID := range participantIDs {
		participant, ok := p.participants[participantID]
		if !ok {
			return nil, fmt.Errorf("participant id: %s not existed", participantID)
		}
		participants = append(participants, participant)
	}

	return participants, nil
}

func (p *ParticipantRegistry) Rehydrate(_ context.Context, info gotxm.ParticipantInfo) (gotxm.Participant, error) {
	participants, err := p.Participants(info.ID)
	if err != nil {
		return nil, err
	}
	return participants[0], nil
}
