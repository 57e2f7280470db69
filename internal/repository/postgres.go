// Package repository содержит реализацию хранилища розыгрышей в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/raffle-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrRaffleNotFound возвращается, если розыгрыш не найден.
	ErrRaffleNotFound = errors.New("raffle not found")
	// ErrAlreadyDrawn возвращается при повторном сохранении или изменении разыгранного розыгрыша.
	ErrAlreadyDrawn = errors.New("raffle already drawn")
	// ErrRaffleFull возвращается, если достигнут лимит участников недели.
	ErrRaffleFull = errors.New("raffle participant limit reached")
	// ErrAllocationLocked возвращается при попытке перераспределить фонд после розыгрыша одной из недель.
	ErrAllocationLocked = errors.New("allocation is locked by a completed draw")
)

// PostgresRepository предоставляет доступ к хранилищу розыгрышей в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(retryDelays) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Конфликты сериализации и взаимоблокировки при захвате строк участников.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateMonthlyRaffle сохраняет месячный розыгрыш вместе с недельными в одной транзакции.
func (r *PostgresRepository) CreateMonthlyRaffle(ctx context.Context, m *model.MonthlyRaffle) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO monthly_raffles (
			year, month, draw_weekday, total_fund, total_participants, week_count, winners_count,
			first_pct, second_pct, third_pct, exclusion_enabled, exclusion_period, exclusion_custom_period)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11, $12, $13)
		 RETURNING id, created_at`,
		m.Year, int(m.Month), int(m.DrawWeekday), m.TotalFund.String(), m.TotalParticipants, m.WeekCount, m.WinnersCount,
		m.FirstPct.String(), m.SecondPct.String(), m.ThirdPct.String(),
		m.Exclusion.Enabled, string(m.Exclusion.Period), m.Exclusion.CustomPeriod,
	).Scan(&id, &m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert monthly raffle: %w", err)
	}

	for i := range m.Weeks {
		w := &m.Weeks[i]
		err = tx.QueryRow(ctx,
			`INSERT INTO weekly_raffles (monthly_raffle_id, week_index, draw_date, fund_pct, fund, max_participants, winners_count)
			 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
			 RETURNING id`,
			id, w.WeekIndex, w.DrawDate, w.FundPct, w.Fund.String(), w.MaxParticipants, w.WinnersCount,
		).Scan(&w.ID)
		if err != nil {
			return 0, fmt.Errorf("insert weekly raffle %d: %w", w.WeekIndex, err)
		}
		w.MonthlyRaffleID = id
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	m.ID = id
	return id, nil
}

// GetMonthlyRaffle возвращает месячный розыгрыш со всеми неделями.
func (r *PostgresRepository) GetMonthlyRaffle(ctx context.Context, id int64) (*model.MonthlyRaffle, error) {
	var (
		m                          model.MonthlyRaffle
		month, weekday             int
		fund, first, second, third string
		period                     string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, year, month, draw_weekday, total_fund::text, total_participants, week_count, winners_count,
		        first_pct::text, second_pct::text, third_pct::text,
		        exclusion_enabled, exclusion_period, exclusion_custom_period, created_at
		 FROM monthly_raffles WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.Year, &month, &weekday, &fund, &m.TotalParticipants, &m.WeekCount, &m.WinnersCount,
		&first, &second, &third,
		&m.Exclusion.Enabled, &period, &m.Exclusion.CustomPeriod, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRaffleNotFound
		}
		return nil, fmt.Errorf("get monthly raffle: %w", err)
	}

	m.Month = time.Month(month)
	m.DrawWeekday = time.Weekday(weekday)
	m.Exclusion.Period = model.ExclusionPeriod(period)
	if err := parseDecimals([]string{fund, first, second, third}, &m.TotalFund, &m.FirstPct, &m.SecondPct, &m.ThirdPct); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, monthly_raffle_id, week_index, draw_date, fund_pct, fund::text, max_participants, winners_count, drawn_at
		 FROM weekly_raffles
		 WHERE monthly_raffle_id = $1
		 ORDER BY week_index`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("select weekly raffles: %w", err)
	}
	defer rows.Close()

	m.WeeklyFundPct = make(map[int]int, m.WeekCount)
	for rows.Next() {
		w, err := scanWeekly(rows)
		if err != nil {
			return nil, err
		}
		m.WeeklyFundPct[w.WeekIndex] = w.FundPct
		m.Weeks = append(m.Weeks, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &m, nil
}

// GetWeeklyRaffle возвращает недельный розыгрыш.
func (r *PostgresRepository) GetWeeklyRaffle(ctx context.Context, id int64) (*model.WeeklyRaffle, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, monthly_raffle_id, week_index, draw_date, fund_pct, fund::text, max_participants, winners_count, drawn_at
		 FROM weekly_raffles WHERE id = $1`,
		id,
	)

	w, err := scanWeekly(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRaffleNotFound
		}
		return nil, err
	}
	return w, nil
}

func scanWeekly(row pgx.Row) (*model.WeeklyRaffle, error) {
	var (
		w    model.WeeklyRaffle
		fund string
	)
	if err := row.Scan(&w.ID, &w.MonthlyRaffleID, &w.WeekIndex, &w.DrawDate, &w.FundPct, &fund,
		&w.MaxParticipants, &w.WinnersCount, &w.DrawnAt); err != nil {
		return nil, fmt.Errorf("scan weekly raffle: %w", err)
	}

	var err error
	w.Fund, err = decimal.NewFromString(fund)
	if err != nil {
		return nil, fmt.Errorf("parse weekly fund %q: %w", fund, err)
	}
	return &w, nil
}

// ReplaceAllocation перезаписывает доли фонда и лимиты участников всех недель месяца.
// Недоступно, если хотя бы одна неделя уже разыграна.
func (r *PostgresRepository) ReplaceAllocation(ctx context.Context, monthlyID int64, weeks []model.WeeklyRaffle) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM monthly_raffles WHERE id = $1 FOR UPDATE`, monthlyID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRaffleNotFound
		}
		return fmt.Errorf("lock monthly raffle: %w", err)
	}

	var drawn bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM weekly_raffles WHERE monthly_raffle_id = $1 AND drawn_at IS NOT NULL)`,
		monthlyID,
	).Scan(&drawn)
	if err != nil {
		return fmt.Errorf("check drawn weeks: %w", err)
	}
	if drawn {
		return ErrAllocationLocked
	}

	for _, w := range weeks {
		tag, err := tx.Exec(ctx,
			`UPDATE weekly_raffles SET fund_pct = $3, fund = $4::numeric, max_participants = $5, winners_count = $6
			 WHERE monthly_raffle_id = $1 AND week_index = $2`,
			monthlyID, w.WeekIndex, w.FundPct, w.Fund.String(), w.MaxParticipants, w.WinnersCount,
		)
		if err != nil {
			return fmt.Errorf("update week %d: %w", w.WeekIndex, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("update week %d: %w", w.WeekIndex, ErrRaffleNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// AddEntry записывает участника в недельный розыгрыш.
// Повторная запись того же участника не считается ошибкой.
func (r *PostgresRepository) AddEntry(ctx context.Context, weeklyID int64, p model.Participant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем строку недели, чтобы параллельные записи не превысили лимит.
	var (
		maxParticipants int
		drawnAt         *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT max_participants, drawn_at FROM weekly_raffles WHERE id = $1 FOR UPDATE`,
		weeklyID,
	).Scan(&maxParticipants, &drawnAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRaffleNotFound
		}
		return fmt.Errorf("lock weekly raffle: %w", err)
	}
	if drawnAt != nil {
		return ErrAlreadyDrawn
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO participants (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		p.ID, p.Name,
	)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM raffle_entries WHERE weekly_raffle_id = $1 AND participant_id = $2)`,
		weeklyID, p.ID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check entry: %w", err)
	}

	if !exists {
		var count int
		err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM raffle_entries WHERE weekly_raffle_id = $1`, weeklyID).Scan(&count)
		if err != nil {
			return fmt.Errorf("count entries: %w", err)
		}
		if count >= maxParticipants {
			return ErrRaffleFull
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO raffle_entries (weekly_raffle_id, participant_id) VALUES ($1, $2)`,
			weeklyID, p.ID,
		)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Participants возвращает пул участников недельного розыгрыша в порядке записи.
func (r *PostgresRepository) Participants(ctx context.Context, weeklyID int64) ([]model.Participant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.name, p.is_excluded, p.excluded_until, p.exclusion_reason
		 FROM raffle_entries e
		 JOIN participants p ON p.id = e.participant_id
		 WHERE e.weekly_raffle_id = $1
		 ORDER BY e.entered_at, p.id`,
		weeklyID,
	)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()

	var res []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Exclusion.IsExcluded, &p.Exclusion.ExcludedUntil, &p.Exclusion.Reason); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExclusionStatuses возвращает сохранённые исключения для указанных участников.
// Участники без действующей записи об исключении в результат не попадают.
func (r *PostgresRepository) ExclusionStatuses(ctx context.Context, ids []string) (map[string]model.ExclusionStatus, error) {
	res := make(map[string]model.ExclusionStatus)
	if len(ids) == 0 {
		return res, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, excluded_until, exclusion_reason
		 FROM participants
		 WHERE id = ANY($1) AND is_excluded`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select exclusion statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     string
			status = model.ExclusionStatus{IsExcluded: true}
		)
		if err := rows.Scan(&id, &status.ExcludedUntil, &status.Reason); err != nil {
			return nil, fmt.Errorf("scan exclusion status: %w", err)
		}
		res[id] = status
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExclusionList возвращает участников, явно исключённых из недельного розыгрыша.
func (r *PostgresRepository) ExclusionList(ctx context.Context, weeklyID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT participant_id FROM raffle_exclusions WHERE weekly_raffle_id = $1 ORDER BY participant_id`,
		weeklyID,
	)
	if err != nil {
		return nil, fmt.Errorf("select exclusions: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect exclusions: %w", err)
	}
	return ids, nil
}

// AddExclusion явно исключает участника из недельного розыгрыша.
func (r *PostgresRepository) AddExclusion(ctx context.Context, weeklyID int64, participantID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO raffle_exclusions (weekly_raffle_id, participant_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		weeklyID, participantID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrRaffleNotFound
		}
		return fmt.Errorf("insert exclusion: %w", err)
	}
	return nil
}

// SaveDrawResult атомарно сохраняет победителей и обновляет исключения участников.
// Строки участников блокируются в порядке идентификаторов, чтобы параллельные
// розыгрыши сериализовали обновление одного и того же участника.
func (r *PostgresRepository) SaveDrawResult(ctx context.Context, res model.DrawResult) error {
	return r.withRetry(ctx, func() error {
		return r.saveDrawResult(ctx, res)
	})
}

func (r *PostgresRepository) saveDrawResult(ctx context.Context, res model.DrawResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var drawnAt *time.Time
	err = tx.QueryRow(ctx, `SELECT drawn_at FROM weekly_raffles WHERE id = $1 FOR UPDATE`, res.WeeklyRaffleID).Scan(&drawnAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRaffleNotFound
		}
		return fmt.Errorf("lock weekly raffle: %w", err)
	}
	if drawnAt != nil {
		return ErrAlreadyDrawn
	}

	ids := make([]string, 0, len(res.Winners))
	for _, w := range res.Winners {
		ids = append(ids, w.ParticipantID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		var dummy int
		err = tx.QueryRow(ctx, `SELECT 1 FROM participants WHERE id = $1 FOR UPDATE`, id).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Участник пришёл из внешнего источника и ещё не известен хранилищу.
				if _, err := tx.Exec(ctx,
					`INSERT INTO participants (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
					id, winnerName(res.Winners, id),
				); err != nil {
					return fmt.Errorf("insert participant %s: %w", id, err)
				}
				continue
			}
			return fmt.Errorf("lock participant %s: %w", id, err)
		}
	}

	batch := &pgx.Batch{}
	for _, w := range res.Winners {
		batch.Queue(
			`INSERT INTO raffle_winners (weekly_raffle_id, session_id, position, participant_id, participant_name,
			                             prize_amount, prize_percentage, drawn_at)
			 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8)`,
			res.WeeklyRaffleID, res.SessionID.String(), w.Position, w.ParticipantID, w.ParticipantName,
			w.PrizeAmount.String(), w.PrizePercentage.String(), res.DrawnAt,
		)
	}
	for _, ex := range res.Exclusions {
		batch.Queue(
			`UPDATE participants SET is_excluded = TRUE, excluded_until = GREATEST(COALESCE(excluded_until, $2), $2), exclusion_reason = $3
			 WHERE id = $1`,
			ex.ParticipantID, ex.ExcludedUntil, ex.Reason,
		)
	}
	batch.Queue(`UPDATE weekly_raffles SET drawn_at = $2 WHERE id = $1`, res.WeeklyRaffleID, res.DrawnAt)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrAlreadyDrawn, pgErr.ConstraintName)
		}
		return fmt.Errorf("save draw result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func winnerName(winners []model.RaffleWinner, id string) string {
	for _, w := range winners {
		if w.ParticipantID == id {
			return w.ParticipantName
		}
	}
	return id
}

// Winners возвращает победителей недельного розыгрыша по местам.
func (r *PostgresRepository) Winners(ctx context.Context, weeklyID int64) ([]model.RaffleWinner, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT position, participant_id, participant_name, prize_amount::text, prize_percentage::text
		 FROM raffle_winners
		 WHERE weekly_raffle_id = $1
		 ORDER BY position`,
		weeklyID,
	)
	if err != nil {
		return nil, fmt.Errorf("select winners: %w", err)
	}
	defer rows.Close()

	var res []model.RaffleWinner
	for rows.Next() {
		var (
			w               model.RaffleWinner
			amount, percent string
		)
		if err := rows.Scan(&w.Position, &w.ParticipantID, &w.ParticipantName, &amount, &percent); err != nil {
			return nil, fmt.Errorf("scan winner: %w", err)
		}
		if err := parseDecimals([]string{amount, percent}, &w.PrizeAmount, &w.PrizePercentage); err != nil {
			return nil, err
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func parseDecimals(values []string, dst ...*decimal.Decimal) error {
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("parse decimal %q: %w", v, err)
		}
		*dst[i] = d
	}
	return nil
}
