package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lib/pq"

	"github.com/songzhibin97/sellflux/internal/data"
	"github.com/songzhibin97/sellflux/internal/models"
)

// unique_violation
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStorage struct {
	db *sql.DB
	q  querier
	tx bool
}

var _ data.PerformanceStore = (*PostgresStorage)(nil)

func NewPostgresStorage(connStr string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return newPostgresStorage(db)
}

// newPostgresStorage takes ownership of db and closes it if setup fails.
func newPostgresStorage(db *sql.DB) (*PostgresStorage, error) {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStorage{db: db, q: db}

	if err := s.initTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return s, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// WithTx implements PerformanceStore interface. Nested calls reuse the open transaction.
func (s *PostgresStorage) WithTx(ctx context.Context, fn func(store data.PerformanceStore) error) error {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&PostgresStorage{db: s.db, q: tx, tx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTokenPerformance implements PerformanceStore interface
func (s *PostgresStorage) GetTokenPerformance(ctx context.Context, tokenAddress string) (*models.TokenPerformance, error) {
	query := `
        SELECT token_address, token_symbol, recommender_id, balance
        FROM token_performance
        WHERE token_address = $1
    `

	var tp models.TokenPerformance
	err := s.q.QueryRowContext(ctx, query, tokenAddress).Scan(
		&tp.TokenAddress,
		&tp.TokenSymbol,
		&tp.RecommenderID,
		&tp.Balance,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token performance %s: %w", tokenAddress, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token performance: %w", err)
	}

	return &tp, nil
}

// GetAllTokenPerformancesWithBalance implements PerformanceStore interface
func (s *PostgresStorage) GetAllTokenPerformancesWithBalance(ctx context.Context) ([]models.TokenPerformance, error) {
	query := `
        SELECT token_address, token_symbol, recommender_id, balance
        FROM token_performance
        WHERE balance <> 0
        ORDER BY token_address ASC
    `

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query token performances: %w", err)
	}
	defer rows.Close()

	var result []models.TokenPerformance
	for rows.Next() {
		var tp models.TokenPerformance
		if err := rows.Scan(&tp.TokenAddress, &tp.TokenSymbol, &tp.RecommenderID, &tp.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan token performance: %w", err)
		}
		result = append(result, tp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token performance rows: %w", err)
	}

	return result, nil
}

// GetOrCreateRecommenderWithTelegramID implements PerformanceStore interface
func (s *PostgresStorage) GetOrCreateRecommenderWithTelegramID(ctx context.Context, telegramID string) (*models.Recommender, error) {
	insert := `
        INSERT INTO recommenders (id, telegram_id, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (telegram_id) DO NOTHING
    `
	if _, err := s.q.ExecContext(ctx, insert, uuid.NewString(), telegramID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to create recommender: %w", err)
	}

	var r models.Recommender
	err := s.q.QueryRowContext(ctx,
		`SELECT id, telegram_id FROM recommenders WHERE telegram_id = $1`, telegramID,
	).Scan(&r.ID, &r.TelegramID)
	if err != nil {
		return nil, fmt.Errorf("failed to get recommender: %w", err)
	}

	return &r, nil
}

// GetLatestTradePerformance implements PerformanceStore interface
func (s *PostgresStorage) GetLatestTradePerformance(ctx context.Context, tokenAddress, recommenderID string, mode models.TradeMode) (*models.TradePerformance, error) {
	query := `
        SELECT token_address, recommender_id, buy_timestamp, is_simulation,
               buy_value_usd, buy_market_cap, buy_liquidity,
               sell_price, sell_timestamp, sell_amount, received_base,
               sell_value_usd, profit_usd, profit_percent,
               sell_market_cap, market_cap_change, sell_liquidity,
               liquidity_change, rapid_dump, sell_recommender_id
        FROM trade_performance
        WHERE token_address = $1 AND recommender_id = $2 AND is_simulation = $3
        ORDER BY buy_timestamp DESC
        LIMIT 1
    `

	var (
		tp           models.TradePerformance
		isSimulation bool
		sellPrice    sql.NullFloat64
		sellTime     sql.NullTime
		sellAmount   sql.NullFloat64
		received     sql.NullFloat64
		sellValue    sql.NullFloat64
		profitUSD    sql.NullFloat64
		profitPct    sql.NullFloat64
		sellMcap     sql.NullFloat64
		mcapChange   sql.NullFloat64
		sellLiq      sql.NullFloat64
		liqChange    sql.NullFloat64
		rapidDump    sql.NullBool
		sellRecID    sql.NullString
	)

	err := s.q.QueryRowContext(ctx, query, tokenAddress, recommenderID, mode.IsSimulation()).Scan(
		&tp.TokenAddress,
		&tp.RecommenderID,
		&tp.BuyTimestamp,
		&isSimulation,
		&tp.BuyValueUSD,
		&tp.BuyMarketCap,
		&tp.BuyLiquidity,
		&sellPrice,
		&sellTime,
		&sellAmount,
		&received,
		&sellValue,
		&profitUSD,
		&profitPct,
		&sellMcap,
		&mcapChange,
		&sellLiq,
		&liqChange,
		&rapidDump,
		&sellRecID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trade performance %s/%s (%s): %w", tokenAddress, recommenderID, mode, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade performance: %w", err)
	}

	tp.Mode = models.ModeFromSimulation(isSimulation)
	if sellTime.Valid {
		tp.Sell = &models.SellDetails{
			SellPrice:       sellPrice.Float64,
			SellTimestamp:   sellTime.Time,
			SellAmount:      sellAmount.Float64,
			ReceivedBase:    received.Float64,
			SellValueUSD:    sellValue.Float64,
			ProfitUSD:       profitUSD.Float64,
			ProfitPercent:   math.NaN(),
			SellMarketCap:   sellMcap.Float64,
			MarketCapChange: mcapChange.Float64,
			SellLiquidity:   sellLiq.Float64,
			LiquidityChange: liqChange.Float64,
			RapidDump:       rapidDump.Bool,
		}
		if profitPct.Valid {
			tp.Sell.ProfitPercent = profitPct.Float64
		}
		if sellRecID.Valid {
			id := sellRecID.String
			tp.Sell.SellRecommenderID = &id
		}
	}

	return &tp, nil
}

// UpdateTradePerformanceOnSell implements PerformanceStore interface
func (s *PostgresStorage) UpdateTradePerformanceOnSell(ctx context.Context, tokenAddress, recommenderID string, buyTimestamp time.Time, sell *models.SellDetails, mode models.TradeMode) error {
	query := `
        UPDATE trade_performance SET
            sell_price = $5,
            sell_timestamp = $6,
            sell_amount = $7,
            received_base = $8,
            sell_value_usd = $9,
            profit_usd = $10,
            profit_percent = $11,
            sell_market_cap = $12,
            market_cap_change = $13,
            sell_liquidity = $14,
            liquidity_change = $15,
            rapid_dump = $16,
            sell_recommender_id = $17
        WHERE token_address = $1 AND recommender_id = $2
          AND buy_timestamp = $3 AND is_simulation = $4
    `

	profitPct := sql.NullFloat64{Float64: sell.ProfitPercent, Valid: !math.IsNaN(sell.ProfitPercent) && !math.IsInf(sell.ProfitPercent, 0)}
	var sellRecID sql.NullString
	if sell.SellRecommenderID != nil {
		sellRecID = sql.NullString{String: *sell.SellRecommenderID, Valid: true}
	}

	res, err := s.q.ExecContext(ctx, query,
		tokenAddress,
		recommenderID,
		buyTimestamp,
		mode.IsSimulation(),
		sell.SellPrice,
		sell.SellTimestamp,
		sell.SellAmount,
		sell.ReceivedBase,
		sell.SellValueUSD,
		sell.ProfitUSD,
		profitPct,
		sell.SellMarketCap,
		sell.MarketCapChange,
		sell.SellLiquidity,
		sell.LiquidityChange,
		sell.RapidDump,
		sellRecID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trade performance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("trade performance %s/%s at %s: %w", tokenAddress, recommenderID, buyTimestamp.Format(time.RFC3339Nano), models.ErrNotFound)
	}

	return nil
}

// GetTokenBalance implements PerformanceStore interface
func (s *PostgresStorage) GetTokenBalance(ctx context.Context, tokenAddress string) (float64, error) {
	var balance float64
	err := s.q.QueryRowContext(ctx,
		`SELECT balance FROM token_performance WHERE token_address = $1`, tokenAddress,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("token balance %s: %w", tokenAddress, models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get token balance: %w", err)
	}

	return balance, nil
}

// UpdateTokenBalance implements PerformanceStore interface
func (s *PostgresStorage) UpdateTokenBalance(ctx context.Context, tokenAddress string, balance float64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE token_performance SET balance = $2, updated_at = $3 WHERE token_address = $1`,
		tokenAddress, balance, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update token balance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("token balance %s: %w", tokenAddress, models.ErrNotFound)
	}

	return nil
}

// AddTransaction implements PerformanceStore interface
func (s *PostgresStorage) AddTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
        INSERT INTO transactions (
            token_address, type, transaction_hash, amount, price, is_simulation, timestamp
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7
        )
    `

	_, err := s.q.ExecContext(ctx, query,
		txn.TokenAddress,
		txn.Type,
		txn.TransactionHash,
		txn.Amount,
		txn.Price,
		txn.Mode.IsSimulation(),
		txn.Timestamp,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate transaction hash %s", models.ErrDataIntegrity, txn.TransactionHash)
	}
	if err != nil {
		return fmt.Errorf("failed to add transaction: %w", err)
	}

	return nil
}

// UpsertTokenPerformance seeds or replaces a token position.
func (s *PostgresStorage) UpsertTokenPerformance(ctx context.Context, tp *models.TokenPerformance) error {
	query := `
        INSERT INTO token_performance (
            token_address, token_symbol, recommender_id, balance, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5
        )
        ON CONFLICT (token_address) DO UPDATE SET
            token_symbol = EXCLUDED.token_symbol,
            recommender_id = EXCLUDED.recommender_id,
            balance = EXCLUDED.balance,
            updated_at = EXCLUDED.updated_at
    `

	_, err := s.q.ExecContext(ctx, query, tp.TokenAddress, tp.TokenSymbol, tp.RecommenderID, tp.Balance, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save token performance: %w", err)
	}

	return nil
}

// AddTradePerformance records the buy side of a trade.
func (s *PostgresStorage) AddTradePerformance(ctx context.Context, tp *models.TradePerformance) error {
	query := `
        INSERT INTO trade_performance (
            token_address, recommender_id, buy_timestamp, is_simulation,
            buy_value_usd, buy_market_cap, buy_liquidity
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7
        )
    `

	_, err := s.q.ExecContext(ctx, query,
		tp.TokenAddress,
		tp.RecommenderID,
		tp.BuyTimestamp,
		tp.Mode.IsSimulation(),
		tp.BuyValueUSD,
		tp.BuyMarketCap,
		tp.BuyLiquidity,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate buy for %s at %s", models.ErrDataIntegrity, tp.TokenAddress, tp.BuyTimestamp)
	}
	if err != nil {
		return fmt.Errorf("failed to save trade performance: %w", err)
	}

	return nil
}

// ListTransactions returns the transaction log for a token, oldest first.
func (s *PostgresStorage) ListTransactions(ctx context.Context, tokenAddress string) ([]models.Transaction, error) {
	query := `
        SELECT token_address, type, transaction_hash, amount, price, is_simulation, timestamp
        FROM transactions
        WHERE token_address = $1
        ORDER BY timestamp ASC, id ASC
    `

	rows, err := s.q.QueryContext(ctx, query, tokenAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		var (
			txn          models.Transaction
			isSimulation bool
		)
		if err := rows.Scan(&txn.TokenAddress, &txn.Type, &txn.TransactionHash, &txn.Amount, &txn.Price, &isSimulation, &txn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.Mode = models.ModeFromSimulation(isSimulation)
		result = append(result, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return result, nil
}

func (s *PostgresStorage) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS recommenders (
			id TEXT PRIMARY KEY,
			telegram_id TEXT UNIQUE NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS token_performance (
			token_address TEXT PRIMARY KEY,
			token_symbol TEXT NOT NULL DEFAULT '',
			recommender_id TEXT NOT NULL DEFAULT '',
			balance DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS trade_performance (
			token_address TEXT NOT NULL,
			recommender_id TEXT NOT NULL,
			buy_timestamp TIMESTAMPTZ NOT NULL,
			is_simulation BOOLEAN NOT NULL,
			buy_value_usd DOUBLE PRECISION NOT NULL,
			buy_market_cap DOUBLE PRECISION NOT NULL,
			buy_liquidity DOUBLE PRECISION NOT NULL,
			sell_price DOUBLE PRECISION,
			sell_timestamp TIMESTAMPTZ,
			sell_amount DOUBLE PRECISION,
			received_base DOUBLE PRECISION,
			sell_value_usd DOUBLE PRECISION,
			profit_usd DOUBLE PRECISION,
			profit_percent DOUBLE PRECISION,
			sell_market_cap DOUBLE PRECISION,
			market_cap_change DOUBLE PRECISION,
			sell_liquidity DOUBLE PRECISION,
			liquidity_change DOUBLE PRECISION,
			rapid_dump BOOLEAN,
			sell_recommender_id TEXT,
			PRIMARY KEY (token_address, recommender_id, buy_timestamp, is_simulation)
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id SERIAL PRIMARY KEY,
			token_address TEXT NOT NULL,
			type VARCHAR(16) NOT NULL,
			transaction_hash TEXT UNIQUE NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			is_simulation BOOLEAN NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, query := range queries {
		_, err := s.db.Exec(query)
		if err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}
