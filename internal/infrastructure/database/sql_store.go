package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pace-noge/defense-probe/internal/domain"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

// SQLStore implements domain.TestResultRepository and domain.OperatorRepository
// on postgres, mysql or sqlite3.
// Queries are written with $n placeholders and rebound per driver.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens and pings the database.
func NewSQLStore(driver, databaseURL string) (*SQLStore, error) {
	switch driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Printf("Successfully connected to %s!", driver)
	return &SQLStore{db: db, driver: driver}, nil
}

// InitSchema creates the results and operators tables if they don't exist.
// MySQL URLs need parseTime=true for operator timestamps.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	text, ts := "TEXT", "TIMESTAMP WITH TIME ZONE"
	switch s.driver {
	case DriverMySQL:
		text, ts = "LONGTEXT", "DATETIME(3)"
	case DriverSQLite:
		ts = "DATETIME"
	}
	queries := []string{
		`CREATE TABLE IF NOT EXISTS probe_results (
            id VARCHAR(64) PRIMARY KEY,
            test_id VARCHAR(255) NOT NULL UNIQUE,
            test_name VARCHAR(255) NOT NULL,
            category VARCHAR(255) NOT NULL,
            test_type VARCHAR(255) NOT NULL,
            domain VARCHAR(255) NOT NULL,
            status VARCHAR(16) NOT NULL,
            verdict VARCHAR(16) NOT NULL,
            start_time ` + ts + ` NOT NULL,
            duration_ms BIGINT NOT NULL,
            credits_used INTEGER NOT NULL,
            success_rate DOUBLE PRECISION NOT NULL,
            security_effectiveness DOUBLE PRECISION NOT NULL,
            result_json ` + text + ` NOT NULL
        )`,
		`CREATE INDEX idx_probe_results_domain ON probe_results(domain, start_time)`,
		`CREATE TABLE IF NOT EXISTS operators (
            id VARCHAR(64) PRIMARY KEY,
            username VARCHAR(255) NOT NULL UNIQUE,
            password_hash VARCHAR(255) NOT NULL,
            is_active BOOLEAN NOT NULL,
            created_at ` + ts + ` NOT NULL,
            last_login_at ` + ts + ` NULL
        )`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			// mysql has no CREATE INDEX IF NOT EXISTS
			if strings.HasPrefix(q, "CREATE INDEX") && isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	log.Printf("%s schema initialized successfully.", s.driver)
	return nil
}

func isDuplicateIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate key name")
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Save stores a result, replacing any earlier row for the same test id.
func (s *SQLStore) Save(ctx context.Context, r *domain.TestResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	start := r.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM probe_results WHERE test_id = $1`), r.TestID); err != nil {
		return fmt.Errorf("failed to replace test result: %w", err)
	}
	query := `INSERT INTO probe_results (id, test_id, test_name, category, test_type, domain, status, verdict, start_time, duration_ms, credits_used, success_rate, security_effectiveness, result_json)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = tx.ExecContext(ctx, s.rebind(query), uuid.New().String(), r.TestID, r.TestName, r.Category, r.Type, r.Domain,
		string(r.Status), string(r.ResultDetails.Verdict), start.UTC(), r.Duration, r.CreditsUsed,
		r.ResultDetails.SuccessRate, r.ResultDetails.SecurityEffectiveness, string(data))
	if err != nil {
		return fmt.Errorf("failed to save test result: %w", err)
	}
	return tx.Commit()
}

// GetResultByTestID returns domain.ErrNotFound when no row matches.
func (s *SQLStore) GetResultByTestID(ctx context.Context, testID string) (*domain.TestResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT result_json FROM probe_results WHERE test_id = $1`), testID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result by test ID: %w", err)
	}
	return decodeResult(data)
}

// GetResultsByDomain returns the newest results for a domain. limit <= 0 means all.
func (s *SQLStore) GetResultsByDomain(ctx context.Context, d string, limit int) ([]*domain.TestResult, error) {
	query := `SELECT result_json FROM probe_results WHERE domain = $1 ORDER BY start_time DESC`
	args := []interface{}{d}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get results by domain: %w", err)
	}
	defer rows.Close()

	var results []*domain.TestResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan test result row: %w", err)
		}
		r, err := decodeResult(data)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteResultsByDomain deletes every stored result for a domain.
func (s *SQLStore) DeleteResultsByDomain(ctx context.Context, d string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM probe_results WHERE domain = $1`), d); err != nil {
		return fmt.Errorf("failed to delete results by domain: %w", err)
	}
	return nil
}

func decodeResult(data string) (*domain.TestResult, error) {
	var r domain.TestResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored result: %w", err)
	}
	return &r, nil
}

func (s *SQLStore) rebind(query string) string {
	return Rebind(s.driver, query)
}

// Rebind rewrites $n placeholders to ? for drivers that need it.
func Rebind(driver, query string) string {
	if driver == DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if _, err := strconv.Atoi(query[i+1 : j]); err == nil {
				b.WriteByte('?')
				i = j - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
