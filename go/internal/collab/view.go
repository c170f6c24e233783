package collab

import (
	"slices"
	"sort"

	"github.com/mcdev12/teamsync/go/internal/models"
)

// ParticipantView is a participant as seen by everyone in the topic
type ParticipantView struct {
	ConnectionID string  `json:"connection_id"`
	Name         string  `json:"name"`
	Vote         *string `json:"vote"`
}

// RoomView is the public state of a voting room. It never carries the
// secret hash.
type RoomView struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Votes        models.VoteSequence `json:"votes"`
	Secured      bool                `json:"secured"`
	Revealed     bool                `json:"revealed"`
	Participants []ParticipantView   `json:"participants"`
}

// CardView is a card as broadcast to a board
type CardView struct {
	ID       string   `json:"id"`
	ColumnID string   `json:"column_id"`
	Body     string   `json:"body"`
	Author   string   `json:"author"`
	Hidden   bool     `json:"hidden"`
	Voters   []string `json:"voters"`
}

// TimerView is the countdown state of a board
type TimerView struct {
	Running  bool `json:"running"`
	TimeLeft int  `json:"time_left"`
	Default  int  `json:"default_duration"`
}

// BoardView is the public state of a retro board
type BoardView struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Secured            bool              `json:"secured"`
	HideCardsByDefault bool              `json:"hide_cards_by_default"`
	HideAuthorNames    bool              `json:"hide_author_names"`
	Timer              TimerView         `json:"timer"`
	Cards              []CardView        `json:"cards"`
	Participants       []ParticipantView `json:"participants"`
}

// RoomSettings is the public settings payload of a room
type RoomSettings struct {
	Name    string              `json:"name"`
	Votes   models.VoteSequence `json:"votes"`
	Secured bool                `json:"secured"`
}

// BoardSettings is the public settings payload of a board
type BoardSettings struct {
	Name               string `json:"name"`
	Secured            bool   `json:"secured"`
	TimerDefault       int    `json:"timer_default"`
	HideCardsByDefault bool   `json:"hide_cards_by_default"`
	HideAuthorNames    bool   `json:"hide_author_names"`
}

// participants lists members in join order
func participants(t *topic) []ParticipantView {
	members := make([]*models.Participant, 0, len(t.members))
	for _, m := range t.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].ConnectionID < members[j].ConnectionID
	})

	out := make([]ParticipantView, 0, len(members))
	for _, m := range members {
		pv := ParticipantView{ConnectionID: m.ConnectionID, Name: m.Name}
		if m.Vote != nil {
			v := *m.Vote
			pv.Vote = &v
		}
		out = append(out, pv)
	}
	return out
}

func roomView(t *topic) *RoomView {
	r := t.room
	return &RoomView{
		ID:   r.ID,
		Name: r.Name,
		Votes: models.VoteSequence{
			Preset: r.Votes.Preset,
			Values: slices.Clone(r.Votes.Values),
		},
		Secured:      r.SecretHash != "",
		Revealed:     r.Revealed,
		Participants: participants(t),
	}
}

func boardView(t *topic) *BoardView {
	b := t.board
	cards := make([]CardView, 0, len(t.cards))
	for _, c := range t.cards {
		cv := CardView{
			ID:       c.ID,
			ColumnID: c.ColumnID,
			Body:     c.Body,
			Author:   c.Author,
			Hidden:   c.Hidden,
			Voters:   slices.Clone(c.Voters),
		}
		if cv.Voters == nil {
			cv.Voters = []string{}
		}
		if b.HideAuthorNames {
			cv.Author = ""
		}
		cards = append(cards, cv)
	}
	return &BoardView{
		ID:                 b.ID,
		Name:               b.Name,
		Secured:            b.SecretHash != "",
		HideCardsByDefault: b.HideCardsByDefault,
		HideAuthorNames:    b.HideAuthorNames,
		Timer: TimerView{
			Running:  b.Timer.Running,
			TimeLeft: b.Timer.Remaining,
			Default:  b.Timer.Default,
		},
		Cards:        cards,
		Participants: participants(t),
	}
}

func roomSettings(r *models.Room) RoomSettings {
	return RoomSettings{
		Name:    r.Name,
		Votes:   models.VoteSequence{Preset: r.Votes.Preset, Values: slices.Clone(r.Votes.Values)},
		Secured: r.SecretHash != "",
	}
}

func boardSettings(b *models.Board) BoardSettings {
	return BoardSettings{
		Name:               b.Name,
		Secured:            b.SecretHash != "",
		TimerDefault:       b.Timer.Default,
		HideCardsByDefault: b.HideCardsByDefault,
		HideAuthorNames:    b.HideAuthorNames,
	}
}
