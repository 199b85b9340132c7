package storage

import (
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/fleet-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveJob(j *models.Job) error {
	_, err := p.db.Exec(`INSERT INTO jobs(id, status, pickup_lat, pickup_lon, pickup_address, dropoff_lat, dropoff_lon, dropoff_address, scheduled_at, required_vehicle, assignment_id, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),$12,$13)`,
		j.ID, j.Status, j.Pickup.Coord.Lat, j.Pickup.Coord.Lon, j.Pickup.Address,
		j.Dropoff.Coord.Lat, j.Dropoff.Coord.Lon, j.Dropoff.Address,
		j.ScheduledAt, int(j.RequiredVehicle), j.AssignmentID, j.CreatedAt, j.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateJob(j *models.Job) error {
	_, err := p.db.Exec(`UPDATE jobs SET status=$1, assignment_id=NULLIF($2,''), updated_at=$3 WHERE id=$4`,
		j.Status, j.AssignmentID, j.UpdatedAt, j.ID)
	return err
}

func (p *PostgresStore) GetJob(id string) (*models.Job, error) {
	var j models.Job
	var vehicle int
	var assignmentID sql.NullString
	err := p.db.QueryRow(`SELECT id, status, pickup_lat, pickup_lon, pickup_address, dropoff_lat, dropoff_lon, dropoff_address, scheduled_at, required_vehicle, assignment_id, created_at, updated_at
		FROM jobs WHERE id=$1`, id).Scan(
		&j.ID, &j.Status, &j.Pickup.Coord.Lat, &j.Pickup.Coord.Lon, &j.Pickup.Address,
		&j.Dropoff.Coord.Lat, &j.Dropoff.Coord.Lon, &j.Dropoff.Address,
		&j.ScheduledAt, &vehicle, &assignmentID, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.RequiredVehicle = models.VehicleClass(vehicle)
	j.AssignmentID = assignmentID.String
	return &j, nil
}

func (p *PostgresStore) SaveAssignment(a *models.Assignment) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO assignments(id, job_id, driver_id, status, claimed_at) VALUES($1,$2,$3,$4,$5)`,
		a.ID, a.JobID, a.DriverID, a.Status, a.ClaimedAt); err != nil {
		return err
	}
	for _, ev := range a.Events {
		if _, err := tx.Exec(`INSERT INTO assignment_events(assignment_id, step, note, at) VALUES($1,$2,$3,$4)`,
			a.ID, ev.Step, ev.Note, ev.At); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) UpdateAssignment(a *models.Assignment) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE assignments SET status=$1 WHERE id=$2`, a.Status, a.ID); err != nil {
		return err
	}
	// events are append-only; rewrite the tail past what is already stored
	var have int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM assignment_events WHERE assignment_id=$1`, a.ID).Scan(&have); err != nil {
		return err
	}
	for i := have; i < len(a.Events); i++ {
		ev := a.Events[i]
		if _, err := tx.Exec(`INSERT INTO assignment_events(assignment_id, step, note, at) VALUES($1,$2,$3,$4)`,
			a.ID, ev.Step, ev.Note, ev.At); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) GetAssignment(id string) (*models.Assignment, error) {
	var a models.Assignment
	err := p.db.QueryRow(`SELECT id, job_id, driver_id, status, claimed_at FROM assignments WHERE id=$1`, id).Scan(
		&a.ID, &a.JobID, &a.DriverID, &a.Status, &a.ClaimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.db.Query(`SELECT step, note, at FROM assignment_events WHERE assignment_id=$1 ORDER BY at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ev models.AssignmentEvent
		if err := rows.Scan(&ev.Step, &ev.Note, &ev.At); err != nil {
			return nil, err
		}
		a.Events = append(a.Events, ev)
	}
	return &a, rows.Err()
}

func (p *PostgresStore) SaveIncident(inc *models.Incident) error {
	_, err := p.db.Exec(`INSERT INTO incidents(id, category, severity, description, driver_id, assignment_id, status, resolution_note, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10)`,
		inc.ID, inc.Category, inc.Severity, inc.Description, inc.DriverID, inc.AssignmentID, inc.Status, inc.ResolutionNote, inc.CreatedAt, inc.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateIncident(inc *models.Incident) error {
	_, err := p.db.Exec(`UPDATE incidents SET status=$1, resolution_note=$2, updated_at=$3 WHERE id=$4`,
		inc.Status, inc.ResolutionNote, inc.UpdatedAt, inc.ID)
	return err
}
