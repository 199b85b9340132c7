package registry

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fleet-dispatch/internal/models"
)

// RedisPositions shares last-known driver positions and matching metadata
// across processes using Redis GEO commands. The consumer binary writes it
// from the snapshot topic; server instances read it to answer nearby
// queries without owning the feed themselves.
type RedisPositions struct {
	client *redis.Client
	key    string
}

func NewRedisPositions(addr, password, key string) *RedisPositions {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPositions{client: c, key: key}
}

func (r *RedisPositions) Upsert(d models.Driver) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if d.Position != nil {
		if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
			Longitude: d.Position.Lon,
			Latitude:  d.Position.Lat,
			Name:      d.ID,
		}).Err(); err != nil {
			return err
		}
	}
	meta := map[string]interface{}{
		"availability": string(d.Availability),
		"account":      string(d.Account),
		"vehicle":      strconv.Itoa(int(d.Vehicle)),
		"active":       strconv.Itoa(d.ActiveAssignments),
		"completed":    strconv.Itoa(d.CompletedJobs),
		"updated":      time.Now().Format(time.RFC3339),
	}
	if d.Rating != nil {
		meta["rating"] = strconv.FormatFloat(*d.Rating, 'f', 2, 64)
	}
	return r.client.HSet(ctx, metaKey(d.ID), meta).Err()
}

// Nearby returns driver snapshots within radiusMeters of the coordinate,
// closest first, at most limit entries.
func (r *RedisPositions) Nearby(ctx context.Context, c models.Coord, radiusMeters float64, limit int) ([]models.Driver, error) {
	res, err := r.client.GeoRadius(ctx, r.key, c.Lon, c.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name, Position: &models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err == nil {
			d.Availability = models.DriverAvailability(m["availability"])
			d.Account = models.AccountStatus(m["account"])
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					d.Rating = &f
				}
			}
			if v, ok := m["vehicle"]; ok {
				if n, err := strconv.Atoi(v); err == nil {
					d.Vehicle = models.VehicleClass(n)
				}
			}
			if v, ok := m["active"]; ok {
				if n, err := strconv.Atoi(v); err == nil {
					d.ActiveAssignments = n
				}
			}
			if v, ok := m["completed"]; ok {
				if n, err := strconv.Atoi(v); err == nil {
					d.CompletedJobs = n
				}
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisPositions) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
