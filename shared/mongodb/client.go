// Package mongodb connects the timer to the MongoDB database holding course documents.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultAppName        = "timer-service"
	defaultConnectTimeout = 10 * time.Second
)

// ErrMissingDatabase is returned when no database name is configured.
var ErrMissingDatabase = errors.New("mongodb database name is required")

// Options tunes the connection. Zero values use the package defaults.
type Options struct {
	Database       string
	AppName        string
	ConnectTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.AppName == "" {
		o.AppName = defaultAppName
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	return o
}

// clientOptions builds the driver options for uri. Course reads go to the
// primary so an admin edit is visible on the next reload.
func clientOptions(uri string, o Options) (*options.ClientOptions, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("mongodb connection string is required")
	}
	if strings.TrimSpace(o.Database) == "" {
		return nil, ErrMissingDatabase
	}
	return options.Client().
		ApplyURI(uri).
		SetAppName(o.AppName).
		SetConnectTimeout(o.ConnectTimeout).
		SetServerSelectionTimeout(o.ConnectTimeout).
		SetReadPreference(readpref.Primary()), nil
}

// Client is a connection bound to the course database.
type Client struct {
	mongoClient *mongo.Client
	database    string
}

// Connect dials MongoDB and pings the primary within the connect timeout.
func Connect(ctx context.Context, uri string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	clientOpts, err := clientOptions(uri, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		if disconnectErr := client.Disconnect(context.Background()); disconnectErr != nil {
			log.Printf("WARNING: Mongo: disconnect after failed ping: %v", disconnectErr)
		}
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Printf("INFO: Mongo: connected to database %s as %s", opts.Database, opts.AppName)
	return &Client{mongoClient: client, database: opts.Database}, nil
}

// Collection returns the named collection in the course database.
func (mc *Client) Collection(name string) *mongo.Collection {
	return mc.mongoClient.Database(mc.database).Collection(name)
}

// Disconnect closes the connection.
func (mc *Client) Disconnect(ctx context.Context) error {
	log.Printf("INFO: Mongo: disconnecting from %s", mc.database)
	return mc.mongoClient.Disconnect(ctx)
}
