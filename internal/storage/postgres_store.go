package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-broker/internal/models"
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

func (p *PostgresStore) SaveRequest(r *models.RideRequest) error {
	_, err := p.db.Exec(`INSERT INTO ride_requests(id, rider_id, rider_name, pickup_lat, pickup_lon, dest_lat, dest_lon, pickup_label, dest_label, price_minor, paid_minor, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.RiderID, r.RiderName, r.Pickup.Lat, r.Pickup.Lon, r.Destination.Lat, r.Destination.Lon, r.PickupLabel, r.DestinationLabel, r.PriceMinor, r.PaidMinor, string(r.Status), r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRequest(r *models.RideRequest) error {
	_, err := p.db.Exec(`UPDATE ride_requests SET price_minor=$1, paid_minor=$2, status=$3, updated_at=$4 WHERE id=$5`,
		r.PriceMinor, r.PaidMinor, string(r.Status), time.Now(), r.ID)
	return err
}

func (p *PostgresStore) Ping() error { return p.db.Ping() }

func (p *PostgresStore) Close() error { return p.db.Close() }
