package quiz

import (
	"context"
	"sort"
	"time"

	"github.com/Nevug030/ShababsHub/internal/store"
)

// Standings recomputes the scoreboard from persisted answers. Only revealed
// rounds count. Members who never answered are listed with zero. Ties go to
// whoever reached their score first, then to the lower player id.
func Standings(members []store.Member, rounds []store.Round, answers []store.Answer, points int) []PlayerScore {
	revealed := make(map[string]time.Time, len(rounds))
	for _, r := range rounds {
		if r.RevealedAt != nil {
			revealed[r.ID] = *r.RevealedAt
		}
	}

	type tally struct {
		PlayerScore
		reached time.Time
	}
	byPlayer := make(map[string]*tally)
	get := func(playerID, name string) *tally {
		t, ok := byPlayer[playerID]
		if !ok {
			t = &tally{PlayerScore: PlayerScore{PlayerID: playerID, DisplayName: name}}
			byPlayer[playerID] = t
		}
		return t
	}

	for _, m := range members {
		get(m.PlayerID, m.DisplayName)
	}

	for _, a := range answers {
		at, ok := revealed[a.RoundID]
		if !ok {
			continue
		}
		t := get(a.PlayerID, a.DisplayName)
		t.TotalAnswers++
		if a.IsCorrect != nil && *a.IsCorrect {
			t.CorrectAnswers++
			t.Score += points
			if at.After(t.reached) {
				t.reached = at
			}
		}
	}

	all := make([]*tally, 0, len(byPlayer))
	for _, t := range byPlayer {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.reached.Equal(b.reached) {
			return a.reached.Before(b.reached)
		}
		return a.PlayerID < b.PlayerID
	})

	out := make([]PlayerScore, len(all))
	for i, t := range all {
		out[i] = t.PlayerScore
	}

	return out
}

func (m *Machine) standings(ctx context.Context, sess store.Session) ([]PlayerScore, error) {
	members, err := m.store.ListMembers(ctx, sess.RoomID)
	if err != nil {
		return nil, unavailable(err)
	}
	rounds, err := m.store.ListRounds(ctx, sess.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	answers, err := m.store.ListSessionAnswers(ctx, sess.ID)
	if err != nil {
		return nil, unavailable(err)
	}

	return Standings(members, rounds, answers, m.cfg.PointsPerQuestion), nil
}
