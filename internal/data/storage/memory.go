package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/songzhibin97/sellflux/internal/data"
	"github.com/songzhibin97/sellflux/internal/models"
)

type tradeKey struct {
	token       string
	recommender string
	mode        models.TradeMode
}

type memoryState struct {
	tokens       map[string]models.TokenPerformance
	recommenders map[string]models.Recommender // keyed by telegram id
	trades       map[tradeKey][]models.TradePerformance
	transactions []models.Transaction
}

func (st *memoryState) clone() *memoryState {
	out := &memoryState{
		tokens:       make(map[string]models.TokenPerformance, len(st.tokens)),
		recommenders: make(map[string]models.Recommender, len(st.recommenders)),
		trades:       make(map[tradeKey][]models.TradePerformance, len(st.trades)),
		transactions: append([]models.Transaction(nil), st.transactions...),
	}
	for k, v := range st.tokens {
		out.tokens[k] = v
	}
	for k, v := range st.recommenders {
		out.recommenders[k] = v
	}
	for k, v := range st.trades {
		out.trades[k] = cloneTrades(v)
	}
	return out
}

// MemoryStorage is an in-memory PerformanceStore for local runs and tests.
type MemoryStorage struct {
	mu    sync.RWMutex
	state *memoryState
}

var _ data.PerformanceStore = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{state: &memoryState{
		tokens:       make(map[string]models.TokenPerformance),
		recommenders: make(map[string]models.Recommender),
		trades:       make(map[tradeKey][]models.TradePerformance),
	}}
}

// WithTx holds the write lock for the whole of fn, so a rollback only ever discards fn's own writes.
func (s *MemoryStorage) WithTx(ctx context.Context, fn func(store data.PerformanceStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state.clone()
	if err := fn(memoryTx{st: s.state}); err != nil {
		*s.state = *snap
		return err
	}
	return nil
}

func (s *MemoryStorage) read() memoryTx {
	return memoryTx{st: s.state}
}

func (s *MemoryStorage) GetTokenPerformance(ctx context.Context, tokenAddress string) (*models.TokenPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTokenPerformance(ctx, tokenAddress)
}

func (s *MemoryStorage) GetAllTokenPerformancesWithBalance(ctx context.Context) ([]models.TokenPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAllTokenPerformancesWithBalance(ctx)
}

func (s *MemoryStorage) GetOrCreateRecommenderWithTelegramID(ctx context.Context, telegramID string) (*models.Recommender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetOrCreateRecommenderWithTelegramID(ctx, telegramID)
}

func (s *MemoryStorage) GetLatestTradePerformance(ctx context.Context, tokenAddress, recommenderID string, mode models.TradeMode) (*models.TradePerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetLatestTradePerformance(ctx, tokenAddress, recommenderID, mode)
}

func (s *MemoryStorage) UpdateTradePerformanceOnSell(ctx context.Context, tokenAddress, recommenderID string, buyTimestamp time.Time, sell *models.SellDetails, mode models.TradeMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateTradePerformanceOnSell(ctx, tokenAddress, recommenderID, buyTimestamp, sell, mode)
}

func (s *MemoryStorage) GetTokenBalance(ctx context.Context, tokenAddress string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTokenBalance(ctx, tokenAddress)
}

func (s *MemoryStorage) UpdateTokenBalance(ctx context.Context, tokenAddress string, balance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateTokenBalance(ctx, tokenAddress, balance)
}

func (s *MemoryStorage) AddTransaction(ctx context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().AddTransaction(ctx, txn)
}

// UpsertTokenPerformance seeds or replaces a token position.
func (s *MemoryStorage) UpsertTokenPerformance(_ context.Context, tp *models.TokenPerformance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.tokens[tp.TokenAddress] = *tp
	return nil
}

// AddTradePerformance records the buy side of a trade.
func (s *MemoryStorage) AddTradePerformance(_ context.Context, tp *models.TradePerformance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tradeKey{token: tp.TokenAddress, recommender: tp.RecommenderID, mode: tp.Mode}
	for _, existing := range s.state.trades[key] {
		if existing.BuyTimestamp.Equal(tp.BuyTimestamp) {
			return fmt.Errorf("%w: duplicate buy for %s at %s", models.ErrDataIntegrity, tp.TokenAddress, tp.BuyTimestamp)
		}
	}
	s.state.trades[key] = append(s.state.trades[key], cloneTrades([]models.TradePerformance{*tp})...)
	return nil
}

// ListTransactions returns the transaction log for a token, oldest first.
func (s *MemoryStorage) ListTransactions(_ context.Context, tokenAddress string) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Transaction
	for _, txn := range s.state.transactions {
		if txn.TokenAddress == tokenAddress {
			result = append(result, txn)
		}
	}
	return result, nil
}

// memoryTx operates on the state directly; callers hold MemoryStorage.mu.
type memoryTx struct {
	st *memoryState
}

var _ data.PerformanceStore = memoryTx{}

func (t memoryTx) WithTx(_ context.Context, fn func(store data.PerformanceStore) error) error {
	return fn(t)
}

func (t memoryTx) GetTokenPerformance(_ context.Context, tokenAddress string) (*models.TokenPerformance, error) {
	tp, ok := t.st.tokens[tokenAddress]
	if !ok {
		return nil, fmt.Errorf("token performance %s: %w", tokenAddress, models.ErrNotFound)
	}
	return &tp, nil
}

func (t memoryTx) GetAllTokenPerformancesWithBalance(_ context.Context) ([]models.TokenPerformance, error) {
	var result []models.TokenPerformance
	for _, tp := range t.st.tokens {
		if tp.Balance != 0 {
			result = append(result, tp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TokenAddress < result[j].TokenAddress
	})
	return result, nil
}

func (t memoryTx) GetOrCreateRecommenderWithTelegramID(_ context.Context, telegramID string) (*models.Recommender, error) {
	if r, ok := t.st.recommenders[telegramID]; ok {
		return &r, nil
	}
	r := models.Recommender{ID: uuid.NewString(), TelegramID: telegramID}
	t.st.recommenders[telegramID] = r
	return &r, nil
}

func (t memoryTx) GetLatestTradePerformance(_ context.Context, tokenAddress, recommenderID string, mode models.TradeMode) (*models.TradePerformance, error) {
	trades := t.st.trades[tradeKey{token: tokenAddress, recommender: recommenderID, mode: mode}]
	if len(trades) == 0 {
		return nil, fmt.Errorf("trade performance %s/%s (%s): %w", tokenAddress, recommenderID, mode, models.ErrNotFound)
	}

	latest := trades[0]
	for _, tp := range trades[1:] {
		if tp.BuyTimestamp.After(latest.BuyTimestamp) {
			latest = tp
		}
	}
	if latest.Sell != nil {
		sell := *latest.Sell
		latest.Sell = &sell
	}
	return &latest, nil
}

func (t memoryTx) UpdateTradePerformanceOnSell(_ context.Context, tokenAddress, recommenderID string, buyTimestamp time.Time, sell *models.SellDetails, mode models.TradeMode) error {
	trades := t.st.trades[tradeKey{token: tokenAddress, recommender: recommenderID, mode: mode}]
	for i := range trades {
		if trades[i].BuyTimestamp.Equal(buyTimestamp) {
			copy := *sell
			trades[i].Sell = &copy
			return nil
		}
	}
	return fmt.Errorf("trade performance %s/%s at %s: %w", tokenAddress, recommenderID, buyTimestamp.Format(time.RFC3339Nano), models.ErrNotFound)
}

func (t memoryTx) GetTokenBalance(_ context.Context, tokenAddress string) (float64, error) {
	tp, ok := t.st.tokens[tokenAddress]
	if !ok {
		return 0, fmt.Errorf("token balance %s: %w", tokenAddress, models.ErrNotFound)
	}
	return tp.Balance, nil
}

func (t memoryTx) UpdateTokenBalance(_ context.Context, tokenAddress string, balance float64) error {
	tp, ok := t.st.tokens[tokenAddress]
	if !ok {
		return fmt.Errorf("token balance %s: %w", tokenAddress, models.ErrNotFound)
	}
	tp.Balance = balance
	t.st.tokens[tokenAddress] = tp
	return nil
}

func (t memoryTx) AddTransaction(_ context.Context, txn *models.Transaction) error {
	if txn == nil || txn.TransactionHash == "" {
		return fmt.Errorf("%w: transaction without hash", models.ErrDataIntegrity)
	}
	for _, existing := range t.st.transactions {
		if existing.TransactionHash == txn.TransactionHash {
			return fmt.Errorf("%w: duplicate transaction hash %s", models.ErrDataIntegrity, txn.TransactionHash)
		}
	}
	t.st.transactions = append(t.st.transactions, *txn)
	return nil
}

func cloneTrades(in []models.TradePerformance) []models.TradePerformance {
	out := make([]models.TradePerformance, len(in))
	for i, tp := range in {
		out[i] = tp
		if tp.Sell != nil {
			sell := *tp.Sell
			out[i].Sell = &sell
		}
	}
	return out
}
