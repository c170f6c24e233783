package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mcdev12/teamsync/go/internal/models"
	"github.com/mcdev12/teamsync/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

// Repository implements durable topic storage on Postgres
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Postgres-backed repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetRoom retrieves a room by ID
func (r *Repository) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var (
		room       models.Room
		values     pqtype.NullRawMessage
		secretHash sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, vote_preset, vote_values, secret_hash, revealed, created_at
		FROM rooms WHERE id = $1`, id,
	).Scan(&room.ID, &room.Name, &room.Votes.Preset, &values, &secretHash, &room.Revealed, &room.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", id, notFound(err))
	}

	if values.Valid {
		if err := json.Unmarshal(values.RawMessage, &room.Votes.Values); err != nil {
			return nil, fmt.Errorf("failed to decode vote values for room %s: %w", id, err)
		}
	}
	room.SecretHash = sqlutil.FromSqlString(secretHash, "")
	return &room, nil
}

// GetBoard retrieves a board by ID
func (r *Repository) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	var (
		board      models.Board
		secretHash sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, timer_running, timer_remaining, timer_default,
		       hide_cards_by_default, hide_author_names, secret_hash, created_at
		FROM boards WHERE id = $1`, id,
	).Scan(&board.ID, &board.Name, &board.Timer.Running, &board.Timer.Remaining, &board.Timer.Default,
		&board.HideCardsByDefault, &board.HideAuthorNames, &secretHash, &board.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get board %s: %w", id, notFound(err))
	}

	board.SecretHash = sqlutil.FromSqlString(secretHash, "")
	return &board, nil
}

// SecretHash returns the stored secret hash of a topic, or "" when the topic is open
func (r *Repository) SecretHash(ctx context.Context, kind models.TopicKind, id string) (string, error) {
	var query string
	switch kind {
	case models.TopicKindRoom:
		query = `SELECT secret_hash FROM rooms WHERE id = $1`
	case models.TopicKindBoard:
		query = `SELECT secret_hash FROM boards WHERE id = $1`
	default:
		return "", fmt.Errorf("unknown topic kind %q: %w", kind, models.ErrInvalid)
	}

	var hash sql.NullString
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&hash); err != nil {
		return "", fmt.Errorf("failed to get secret for %s %s: %w", kind, id, notFound(err))
	}
	return sqlutil.FromSqlString(hash, ""), nil
}

// ListParticipants lists the stored participants of a topic
func (r *Repository) ListParticipants(ctx context.Context, topicID string) ([]models.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT topic_id, connection_id, name, vote, joined_at
		FROM participants WHERE topic_id = $1
		ORDER BY joined_at, connection_id`, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var (
			p    models.Participant
			vote sql.NullString
		)
		if err := rows.Scan(&p.TopicID, &p.ConnectionID, &p.Name, &vote, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.Vote = sqlutil.FromSqlStringPtr(vote)
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

// UpsertParticipant records a participant, replacing name and vote on conflict
func (r *Repository) UpsertParticipant(ctx context.Context, p models.Participant) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO participants (topic_id, connection_id, name, vote, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (topic_id, connection_id)
		DO UPDATE SET name = EXCLUDED.name, vote = EXCLUDED.vote`,
		p.TopicID, p.ConnectionID, p.Name, sqlutil.ToSqlString(p.Vote), p.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

// RemoveParticipant deletes a participant; removing an absent row is not an error
func (r *Repository) RemoveParticipant(ctx context.Context, topicID, connectionID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM participants WHERE topic_id = $1 AND connection_id = $2`, topicID, connectionID)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return nil
}

// ResetPresence deletes every participant row. Participants are tied to live
// connections, none of which survive a process restart.
func (r *Repository) ResetPresence(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM participants`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset presence: %w", err)
	}
	return res.RowsAffected()
}

// ResetVotes clears every vote in a room and hides the results again
func (r *Repository) ResetVotes(ctx context.Context, roomID string) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE rooms SET revealed = FALSE WHERE id = $1`, roomID)
		if err != nil {
			return fmt.Errorf("failed to reset room %s: %w", roomID, err)
		}
		if err := requireRow(res, "room "+roomID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE participants SET vote = NULL WHERE topic_id = $1`, roomID); err != nil {
			return fmt.Errorf("failed to clear votes in room %s: %w", roomID, err)
		}
		return nil
	})
}

// SetRoomRevealed sets whether a room's votes are revealed
func (r *Repository) SetRoomRevealed(ctx context.Context, roomID string, revealed bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE rooms SET revealed = $2 WHERE id = $1`, roomID, revealed)
	if err != nil {
		return fmt.Errorf("failed to set revealed on room %s: %w", roomID, err)
	}
	return requireRow(res, "room "+roomID)
}

// UpdateRoomSettings applies the non-nil fields of u
func (r *Repository) UpdateRoomSettings(ctx context.Context, roomID string, u models.RoomSettingsUpdate) error {
	var (
		preset string
		values pqtype.NullRawMessage
	)
	if u.Votes != nil {
		raw, err := json.Marshal(u.Votes.Values)
		if err != nil {
			return fmt.Errorf("failed to encode vote values: %w", err)
		}
		preset = u.Votes.Preset
		values = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE rooms SET
			name        = COALESCE($2, name),
			secret_hash = CASE WHEN $3::boolean THEN $4 ELSE secret_hash END,
			vote_preset = CASE WHEN $5::boolean THEN $6 ELSE vote_preset END,
			vote_values = CASE WHEN $5::boolean THEN $7::jsonb ELSE vote_values END
		WHERE id = $1`,
		roomID,
		sqlutil.ToSqlString(u.Name),
		u.SecretHash != nil, secretParam(u.SecretHash),
		u.Votes != nil, preset, values,
	)
	if err != nil {
		return fmt.Errorf("failed to update room settings: %w", err)
	}
	return requireRow(res, "room "+roomID)
}

// UpdateBoardSettings applies the non-nil fields of u
func (r *Repository) UpdateBoardSettings(ctx context.Context, boardID string, u models.BoardSettingsUpdate) error {
	var timerDefault sql.NullInt32
	if u.TimerDefault != nil {
		timerDefault = sql.NullInt32{Int32: int32(*u.TimerDefault), Valid: true}
	}
	var hideCards, hideAuthors sql.NullBool
	if u.HideCardsByDefault != nil {
		hideCards = sql.NullBool{Bool: *u.HideCardsByDefault, Valid: true}
	}
	if u.HideAuthorNames != nil {
		hideAuthors = sql.NullBool{Bool: *u.HideAuthorNames, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE boards SET
			name                  = COALESCE($2, name),
			secret_hash           = CASE WHEN $3::boolean THEN $4 ELSE secret_hash END,
			timer_default         = COALESCE($5, timer_default),
			hide_cards_by_default = COALESCE($6, hide_cards_by_default),
			hide_author_names     = COALESCE($7, hide_author_names)
		WHERE id = $1`,
		boardID,
		sqlutil.ToSqlString(u.Name),
		u.SecretHash != nil, secretParam(u.SecretHash),
		timerDefault, hideCards, hideAuthors,
	)
	if err != nil {
		return fmt.Errorf("failed to update board settings: %w", err)
	}
	return requireRow(res, "board "+boardID)
}

// SetTimerState persists a board's countdown state
func (r *Repository) SetTimerState(ctx context.Context, boardID string, running bool, remaining int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE boards SET timer_running = $2, timer_remaining = $3 WHERE id = $1`,
		boardID, running, remaining)
	if err != nil {
		return fmt.Errorf("failed to set timer state: %w", err)
	}
	return requireRow(res, "board "+boardID)
}

// ListCards lists a board's cards in creation order
func (r *Repository) ListCards(ctx context.Context, boardID string) ([]models.Card, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, board_id, column_id, body, author, hidden, voters, created_at
		FROM cards WHERE board_id = $1
		ORDER BY created_at, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var c models.Card
		if err := rows.Scan(&c.ID, &c.BoardID, &c.ColumnID, &c.Body, &c.Author, &c.Hidden,
			pq.Array(&c.Voters), &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		if c.Voters == nil {
			c.Voters = []string{}
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

// InsertCard creates a card
func (r *Repository) InsertCard(ctx context.Context, c models.Card) error {
	voters := c.Voters
	if voters == nil {
		voters = []string{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cards (id, board_id, column_id, body, author, hidden, voters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.BoardID, c.ColumnID, c.Body, c.Author, c.Hidden, pq.Array(voters), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	return nil
}

// UpdateCard writes a card's column, body and visibility
func (r *Repository) UpdateCard(ctx context.Context, c models.Card) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cards SET column_id = $3, body = $4, hidden = $5
		WHERE id = $1 AND board_id = $2`,
		c.ID, c.BoardID, c.ColumnID, c.Body, c.Hidden)
	if err != nil {
		return fmt.Errorf("failed to update card: %w", err)
	}
	return requireRow(res, "card "+c.ID)
}

// DeleteCard removes a card
func (r *Repository) DeleteCard(ctx context.Context, boardID, cardID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cards WHERE id = $1 AND board_id = $2`, cardID, boardID)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	return requireRow(res, "card "+cardID)
}

// ToggleVote adds name to a card's voters or removes it when present.
// It returns whether name is a voter afterwards.
func (r *Repository) ToggleVote(ctx context.Context, cardID, name string) (bool, error) {
	var voted bool
	err := r.db.QueryRowContext(ctx, `
		UPDATE cards SET voters = CASE
			WHEN $2 = ANY(voters) THEN array_remove(voters, $2)
			ELSE array_append(voters, $2)
		END
		WHERE id = $1
		RETURNING $2 = ANY(voters)`, cardID, name,
	).Scan(&voted)
	if err != nil {
		return false, fmt.Errorf("failed to toggle vote on card %s: %w", cardID, notFound(err))
	}
	return voted, nil
}

// SetCardsHidden sets the visibility of every card on a board
func (r *Repository) SetCardsHidden(ctx context.Context, boardID string, hidden bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE cards SET hidden = $2 WHERE board_id = $1`, boardID, hidden); err != nil {
		return fmt.Errorf("failed to set card visibility: %w", err)
	}
	return nil
}

// RenameAuthor relabels every card on a board authored by oldName
func (r *Repository) RenameAuthor(ctx context.Context, boardID, oldName, newName string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cards SET author = $3 WHERE board_id = $1 AND author = $2`, boardID, oldName, newName)
	if err != nil {
		return 0, fmt.Errorf("failed to rename card author: %w", err)
	}
	return res.RowsAffected()
}

func secretParam(hash *string) sql.NullString {
	if hash == nil {
		return sql.NullString{}
	}
	return sqlutil.ToSqlStringNonEmpty(*hash)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}
