package session

import (
	"fmt"

	"github.com/codexturn/codexturn/internal/rollout"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// InitialHistoryKind discriminates how a Session's rollout/history should
// be seeded at construction (spec.md §4.9: "InitialHistory ∈ {New,
// Resumed(path+items), Forked(items)}").
type InitialHistoryKind string

const (
	InitialHistoryNew     InitialHistoryKind = "new"
	InitialHistoryResumed InitialHistoryKind = "resumed"
	InitialHistoryForked  InitialHistoryKind = "forked"
)

// InitialHistory selects how Session.New opens its rollout recorder.
type InitialHistory struct {
	Kind InitialHistoryKind
	// Path is the source rollout file for Resumed (reopened in place) or
	// Forked (copied verbatim into a new file).
	Path string
}

// NewConversation starts a brand new session with an empty history.
func NewConversation() InitialHistory {
	return InitialHistory{Kind: InitialHistoryNew}
}

// Resumed reopens an existing rollout file in place, replaying its prior
// items back into the Context Manager.
func Resumed(path string) InitialHistory {
	return InitialHistory{Kind: InitialHistoryResumed, Path: path}
}

// Forked copies path's items into a new rollout file under a fresh
// conversation id, so the fork can diverge independently of the source.
func Forked(path string) InitialHistory {
	return InitialHistory{Kind: InitialHistoryForked, Path: path}
}

// open realizes this InitialHistory against codexHome, returning the
// opened recorder and the prior RolloutItems (empty for New) to replay.
func (h InitialHistory) open(codexHome string, archiver rollout.Archiver) (*rollout.Recorder, []protocol.RolloutItem, error) {
	switch h.Kind {
	case InitialHistoryResumed:
		rec, err := rollout.Resume(h.Path)
		if err != nil {
			return nil, nil, err
		}
		_, items, err := rollout.Load(h.Path)
		if err != nil {
			rec.Shutdown()
			return nil, nil, err
		}
		return rec, items, nil

	case InitialHistoryForked:
		rec, err := rollout.Fork(codexHome, h.Path, archiver)
		if err != nil {
			return nil, nil, err
		}
		_, items, err := rollout.Load(rec.Path())
		if err != nil {
			rec.Shutdown()
			return nil, nil, err
		}
		return rec, items, nil

	case InitialHistoryNew, "":
		rec, err := rollout.New(codexHome, "", "", archiver)
		if err != nil {
			return nil, nil, err
		}
		return rec, nil, nil

	default:
		return nil, nil, fmt.Errorf("session: unknown InitialHistoryKind %q", h.Kind)
	}
}
