// Package verifier compares the tables of a replication set between the source
// and every destination.
package verifier

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/logger"
	"github.com/dbsmedya/ctsync/internal/schema"
	"github.com/dbsmedya/ctsync/internal/tracking"
)

// VerificationMethod defines how tables are compared.
type VerificationMethod string

const (
	// MethodCount compares row counts (fast).
	MethodCount VerificationMethod = "count"
	// MethodSHA256 hashes every replicated column of every row in key order.
	// Keys must sort the same way on both engines, which holds for numeric keys.
	MethodSHA256 VerificationMethod = "sha256"
)

// ParseMethod validates a method name; empty selects MethodCount.
func ParseMethod(s string) (VerificationMethod, error) {
	switch m := VerificationMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MethodCount, nil
	case MethodCount, MethodSHA256:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported verification method %q (use count or sha256)", s)
	}
}

// VerifyResult holds the comparison of one table on one destination.
type VerifyResult struct {
	Table        string
	Destination  string
	Method       VerificationMethod
	SourceCount  int64
	DestCount    int64
	SourceHash   string
	DestHash     string
	Match        bool
	ErrorMessage string
}

// VerifyStats summarizes a replication set.
type VerifyStats struct {
	Set            string
	Method         VerificationMethod
	TablesVerified int
	TablesPassed   int
	TablesFailed   int
	TotalRows      int64 // source rows, counted once per table
	Results        []VerifyResult
}

// Mismatches returns the failed results.
func (s *VerifyStats) Mismatches() []VerifyResult {
	var out []VerifyResult
	for _, r := range s.Results {
		if !r.Match {
			out = append(out, r)
		}
	}
	return out
}

// Opener opens database endpoints; *database.Manager satisfies it.
type Opener interface {
	Open(ctx context.Context, info config.DatabaseInfo) (*sql.DB, error)
}

// Verifier compares source and destination tables. It only reads.
type Verifier struct {
	dbs    Opener
	method VerificationMethod
	logger *logger.Logger
}

// NewVerifier creates a Verifier. An empty method selects MethodCount.
func NewVerifier(dbs Opener, method VerificationMethod, log *logger.Logger) (*Verifier, error) {
	if dbs == nil {
		return nil, fmt.Errorf("database opener is nil")
	}
	if method == "" {
		method = MethodCount
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Verifier{dbs: dbs, method: method, logger: log}, nil
}

// GetMethod returns the configured verification method.
func (v *Verifier) GetMethod() VerificationMethod {
	return v.method
}

// Verify compares every table of rs on every destination. Mismatches and
// unreadable destination tables are collected; the returned error reports
// them after the whole set has been checked.
//
// Destinations that are behind the source legitimately differ; run it after
// a sync pass on a quiet source.
func (v *Verifier) Verify(ctx context.Context, rs *config.ReplicationSet) (*VerifyStats, error) {
	log := v.logger.WithSet(rs.Name)
	stats := &VerifyStats{Set: rs.Name, Method: v.method}

	srcDB, err := v.dbs.Open(ctx, rs.Source)
	if err != nil {
		return stats, fmt.Errorf("source unavailable: %w", err)
	}
	src, err := tracking.NewSource(srcDB, log, false)
	if err != nil {
		return stats, err
	}
	scope, err := src.ResolveScope(ctx, rs)
	if err != nil {
		return stats, err
	}

	srcDialect := dialect.MustLookup(dialect.SQLServer)
	log.Infof("Starting verification (method=%s) for %d tables on %d destinations",
		v.method, len(scope.Specs), len(rs.Destinations))

	for _, spec := range scope.Specs {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("verification interrupted: %w", err)
		}

		source, err := v.measure(ctx, srcDB, srcDialect, spec)
		if err != nil {
			return stats, fmt.Errorf("failed to read source table %s: %w", spec.Name, err)
		}
		stats.TotalRows += source.count

		for _, dst := range rs.Destinations {
			result := v.compare(ctx, spec, dst, source)
			stats.Results = append(stats.Results, result)
			stats.TablesVerified++
			if result.Match {
				stats.TablesPassed++
				log.Debugf("Verification PASSED for %q on %s (%d rows)", spec.Name, dst.Name, result.SourceCount)
				continue
			}
			stats.TablesFailed++
			log.Errorf("Verification FAILED for %q on %s: %s", spec.Name, dst.Name, result.ErrorMessage)
		}
	}

	log.Infof("Verification complete: %d tables verified, %d passed, %d failed, %d total rows",
		stats.TablesVerified, stats.TablesPassed, stats.TablesFailed, stats.TotalRows)

	if stats.TablesFailed > 0 {
		return stats, fmt.Errorf("verification failed: %d table(s) had mismatches", stats.TablesFailed)
	}
	return stats, nil
}

type measurement struct {
	count int64
	hash  string
}

func (v *Verifier) compare(ctx context.Context, spec *schema.TableSpec, dst config.DatabaseInfo, source measurement) VerifyResult {
	result := VerifyResult{
		Table:       spec.Name,
		Destination: dst.Name,
		Method:      v.method,
		SourceCount: source.count,
		SourceHash:  source.hash,
	}

	d, err := dialect.Lookup(dst.DriverName())
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	db, err := v.dbs.Open(ctx, dst)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	m, err := v.measure(ctx, db, d, spec)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	result.DestCount = m.count
	result.DestHash = m.hash
	result.Match = m.count == source.count && m.hash == source.hash
	switch {
	case m.count != source.count:
		result.ErrorMessage = fmt.Sprintf("count mismatch: source=%d, dest=%d", source.count, m.count)
	case m.hash != source.hash:
		result.ErrorMessage = fmt.Sprintf("hash mismatch: source=%s, dest=%s", source.hash[:16], m.hash[:16])
	}
	return result
}

func (v *Verifier) measure(ctx context.Context, db *sql.DB, d dialect.Dialect, spec *schema.TableSpec) (measurement, error) {
	if v.method == MethodSHA256 {
		return computeTableHash(ctx, db, d, spec)
	}
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", d.QuoteTable(spec.Table))
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return measurement{}, fmt.Errorf("failed to count rows: %w", err)
	}
	return measurement{count: n}, nil
}

// computeTableHash hashes the replicated columns of every row, ordered by key.
func computeTableHash(ctx context.Context, db *sql.DB, d dialect.Dialect, spec *schema.TableSpec) (measurement, error) {
	columns := spec.AllColumns()
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(quoted, ", "), d.QuoteTable(spec.Table), strings.Join(quoted[:len(spec.Keys)], ", "))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return measurement{}, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	hasher := sha256.New()
	var total int64
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return measurement{}, fmt.Errorf("hash computation interrupted: %w", err)
		}
		if err := rows.Scan(ptrs...); err != nil {
			return measurement{}, fmt.Errorf("failed to scan row: %w", err)
		}
		hasher.Write([]byte(serializeRow(spec, columns, values)))
		hasher.Write([]byte("\n"))
		total++
	}
	if err := rows.Err(); err != nil {
		return measurement{}, fmt.Errorf("error iterating rows: %w", err)
	}

	return measurement{count: total, hash: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// serializeRow renders a row deterministically: col1=val1 NUL col2=val2 ...
func serializeRow(spec *schema.TableSpec, columns []string, values []any) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = col + "=" + canonical(schema.Normalize(spec.DataType(col), values[i]))
	}
	return strings.Join(parts, "\x00")
}

// canonical renders a scanned value so that equal data read through different
// drivers encodes identically. Numbers are reduced to their shortest exact
// decimal form, text and bytes compare as strings, times in UTC.
func canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return decimal(strconv.FormatFloat(x, 'f', -1, 64))
	case float32:
		return decimal(strconv.FormatFloat(float64(x), 'f', -1, 32))
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return decimal(string(x))
	case string:
		return decimal(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

var numericText = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// decimal rewrites numeric text such as "12.50" to "12.5" and leaves any other
// text unchanged.
func decimal(s string) string {
	if !numericText.MatchString(s) {
		return s
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return s
	}
	if r.IsInt() {
		return r.Num().String()
	}
	return strings.TrimRight(strings.TrimRight(r.FloatString(20), "0"), ".")
}
