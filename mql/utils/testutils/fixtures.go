package testutils

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/icrowley/fake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"syreclabs.com/go/faker"

	"github.com/krew-solutions/mql-go/mql/schema"
)

// CatalogRegistry is the music catalog schema used by the integration
// tests: artists own albums, albums own tracks.
func CatalogRegistry() *schema.Registry {
	artist := schema.NewModel("Artist").
		Scalar("artist_id", schema.Int).
		Scalar("name", schema.Text).
		Scalar("formed_on", schema.Date).
		Scalar("active", schema.Bool).
		Relation("albums", "Album", schema.Many)
	album := schema.NewModel("Album").
		Scalar("album_id", schema.Int).
		Scalar("title", schema.Text).
		Scalar("release_date", schema.Date).
		Scalar("price", schema.Float).
		Relation("artist", "Artist", schema.One).
		Relation("tracks", "Track", schema.Many)
	track := schema.NewModel("Track").
		Scalar("track_id", schema.Int).
		Scalar("name", schema.Text).
		Scalar("milliseconds", schema.Int).
		Scalar("unit_price", schema.Float).
		Scalar("ref", schema.Text).
		Scalar("public_id", schema.Text).
		Relation("album", "Album", schema.One)
	return schema.NewRegistry().Add(artist, album, track)
}

// SetupCatalog (re)creates the catalog tables.
func SetupCatalog(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`DROP TABLE IF EXISTS tracks`,
		`DROP TABLE IF EXISTS albums`,
		`DROP TABLE IF EXISTS artists`,
		`CREATE TABLE artists (
			artist_id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			formed_on DATE,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE albums (
			album_id BIGINT PRIMARY KEY,
			artist_id BIGINT NOT NULL REFERENCES artists (artist_id),
			title TEXT NOT NULL,
			release_date DATE,
			price DOUBLE PRECISION
		)`,
		`CREATE TABLE tracks (
			track_id BIGINT PRIMARY KEY,
			album_id BIGINT NOT NULL REFERENCES albums (album_id),
			name TEXT NOT NULL,
			milliseconds BIGINT,
			unit_price DOUBLE PRECISION,
			ref TEXT NOT NULL,
			public_id TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Artist/Album/Track ids below this bound are reserved for deterministic
// rows the tests assert against; faker filler rows start above it.
const fillerIDBase = 1000

// SeedCatalog inserts the deterministic rows the integration tests expect
// plus fillerArtists randomized artists with one album of three tracks
// each.
func SeedCatalog(ctx context.Context, pool *pgxpool.Pool, fillerArtists int) error {
	deterministic := []string{
		`INSERT INTO artists (artist_id, name, formed_on, active) VALUES
			(1, 'The Null Pointers', '1999-04-01', TRUE),
			(2, 'Silent Alarm', '2004-06-15', FALSE)`,
		`INSERT INTO albums (album_id, artist_id, title, release_date, price) VALUES
			(1, 1, 'Segmentation Fault', '2001-01-20', 9.99),
			(2, 1, 'Dangling Reference', '2003-09-09', 12.50),
			(3, 2, 'Quiet Signal', '2005-03-03', 7.00)`,
		`INSERT INTO tracks (track_id, album_id, name, milliseconds, unit_price, ref, public_id) VALUES
			(1, 1, 'Null Love', 180000, 0.99, '` + ulid.Make().String() + `', '` + uuid.NewString() + `'),
			(2, 1, 'Panic at the Heap', 240000, 1.29, '` + ulid.Make().String() + `', '` + uuid.NewString() + `'),
			(3, 2, 'Use After Free', 200000, 0.99, '` + ulid.Make().String() + `', '` + uuid.NewString() + `'),
			(4, 3, 'Hush', 150000, 0.69, '` + ulid.Make().String() + `', '` + uuid.NewString() + `')`,
	}
	for _, stmt := range deterministic {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	for i := 0; i < fillerArtists; i++ {
		artistID := fillerIDBase + i
		if _, err := pool.Exec(ctx,
			`INSERT INTO artists (artist_id, name, formed_on, active) VALUES ($1, $2, $3, $4)`,
			artistID, fake.Brand(), fmt.Sprintf("19%02d-01-01", faker.RandomInt(50, 99)), true,
		); err != nil {
			return err
		}
		albumID := fillerIDBase + i
		if _, err := pool.Exec(ctx,
			`INSERT INTO albums (album_id, artist_id, title, release_date, price) VALUES ($1, $2, $3, $4, $5)`,
			albumID, artistID, fake.Title(), fmt.Sprintf("20%02d-06-01", faker.RandomInt(0, 20)), 5.0+float64(faker.RandomInt(0, 20)),
		); err != nil {
			return err
		}
		for j := 0; j < 3; j++ {
			if _, err := pool.Exec(ctx,
				`INSERT INTO tracks (track_id, album_id, name, milliseconds, unit_price, ref, public_id)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				fillerIDBase+i*3+j, albumID, fake.ProductName(),
				faker.RandomInt(60000, 600000), 0.49+float64(faker.RandomInt(0, 3)),
				ulid.Make().String(), uuid.NewString(),
			); err != nil {
				return err
			}
		}
	}
	return nil
}
