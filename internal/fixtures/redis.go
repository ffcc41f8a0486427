package fixtures

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces snapshot hashes.
const DefaultKeyPrefix = "fixture:"

// Connect accepts either a redis:// URL or a bare host:port.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisRepository keeps one hash per fixture, keyed <prefix><id>.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository wraps client. An empty prefix falls back to
// DefaultKeyPrefix.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(id int64) string {
	return r.prefix + strconv.FormatInt(id, 10)
}

// Get implements Source.
func (r *RedisRepository) Get(ctx context.Context, fixtureID int64) (Snapshot, bool, error) {
	data, err := r.client.HGetAll(ctx, r.key(fixtureID)).Result()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("redis get fixture %d: %w", fixtureID, err)
	}
	if len(data) == 0 {
		return Snapshot{}, false, nil
	}
	snap, err := fromHash(data)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("fixture %d: %w", fixtureID, err)
	}
	return snap, true, nil
}

// GetMany implements Source with one pipelined round trip.
func (r *RedisRepository) GetMany(ctx context.Context, fixtureIDs []int64) (map[int64]Snapshot, error) {
	out := make(map[int64]Snapshot, len(fixtureIDs))
	if len(fixtureIDs) == 0 {
		return out, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(fixtureIDs))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range fixtureIDs {
			cmds[i] = p.HGetAll(ctx, r.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis get fixtures: %w", err)
	}

	for i, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			continue
		}
		snap, err := fromHash(data)
		if err != nil {
			return nil, fmt.Errorf("fixture %d: %w", fixtureIDs[i], err)
		}
		out[snap.FixtureID] = snap
	}
	return out, nil
}

// Save implements Repository.
func (r *RedisRepository) Save(ctx context.Context, snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, snap := range snapshots {
			key := r.key(snap.FixtureID)
			p.Del(ctx, key)
			p.HSet(ctx, key, toHash(snap))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save fixtures: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func toHash(s Snapshot) map[string]any {
	h := map[string]any{
		"fixture_id":   s.FixtureID,
		"status_short": s.StatusShort,
		"status_long":  s.StatusLong,
		"kickoff":      s.Kickoff.UTC().Format(time.RFC3339),
		"home_team":    s.HomeTeam,
		"away_team":    s.AwayTeam,
		"home_goals":   "",
		"away_goals":   "",
		"league_id":    s.LeagueID,
		"league_name":  s.LeagueName,
		"round":        s.Round,
		"season":       s.Season,
		"updated_at":   s.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if s.HomeGoals != nil {
		h["home_goals"] = *s.HomeGoals
	}
	if s.AwayGoals != nil {
		h["away_goals"] = *s.AwayGoals
	}
	return h
}

func fromHash(h map[string]string) (Snapshot, error) {
	id, err := strconv.ParseInt(h["fixture_id"], 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse fixture_id: %w", err)
	}
	s := Snapshot{
		FixtureID:   id,
		StatusShort: h["status_short"],
		StatusLong:  h["status_long"],
		HomeTeam:    h["home_team"],
		AwayTeam:    h["away_team"],
		LeagueName:  h["league_name"],
		Round:       h["round"],
	}
	if s.Kickoff, err = parseTime(h["kickoff"]); err != nil {
		return Snapshot{}, fmt.Errorf("parse kickoff: %w", err)
	}
	if s.UpdatedAt, err = parseTime(h["updated_at"]); err != nil {
		return Snapshot{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if s.HomeGoals, err = parseGoals(h["home_goals"]); err != nil {
		return Snapshot{}, fmt.Errorf("parse home_goals: %w", err)
	}
	if s.AwayGoals, err = parseGoals(h["away_goals"]); err != nil {
		return Snapshot{}, fmt.Errorf("parse away_goals: %w", err)
	}
	if raw := h["league_id"]; raw != "" {
		if s.LeagueID, err = strconv.Atoi(raw); err != nil {
			return Snapshot{}, fmt.Errorf("parse league_id: %w", err)
		}
	}
	if raw := h["season"]; raw != "" {
		if s.Season, err = strconv.Atoi(raw); err != nil {
			return Snapshot{}, fmt.Errorf("parse season: %w", err)
		}
	}
	return s, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseGoals(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

var _ Repository = (*RedisRepository)(nil)
