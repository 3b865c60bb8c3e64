package course

import (
	"context"
	"fmt"

	"github.com/Ftotnem/GO-TIMING/shared/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists course documents, one per course keyed by _id = course key.
type MongoStore struct {
	collection *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore creates a MongoStore over collection.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// LoadAll implements Loader.
func (ms *MongoStore) LoadAll(ctx context.Context) ([]models.Course, error) {
	cursor, err := ms.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer cursor.Close(ctx)

	var courses []models.Course
	if err := cursor.All(ctx, &courses); err != nil {
		return nil, fmt.Errorf("failed to decode courses: %w", err)
	}
	return courses, nil
}

// Save upserts a course document.
func (ms *MongoStore) Save(ctx context.Context, c models.Course) error {
	c.Key = courseKey(c)
	if c.Key == "" {
		return fmt.Errorf("course %q has no usable key", c.Name)
	}
	_, err := ms.collection.ReplaceOne(ctx, bson.M{"_id": c.Key}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save course %s: %w", c.Key, err)
	}
	return nil
}

// Delete removes a course document. Deleting an unknown course is not an error.
func (ms *MongoStore) Delete(ctx context.Context, name string) (bool, error) {
	res, err := ms.collection.DeleteOne(ctx, bson.M{"_id": models.CourseKey(name)})
	if err != nil {
		return false, fmt.Errorf("failed to delete course %s: %w", name, err)
	}
	return res.DeletedCount > 0, nil
}
