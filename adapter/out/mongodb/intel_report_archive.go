package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mailintel_server/core/domain"
)

const collectionQualityReports = "quality_reports"

// reportTTL ages archived reports out after ninety days.
const reportTTL = 90 * 24 * time.Hour

// ReportArchive implements out.ReportArchive on a MongoDB collection.
// Each document is one monitor cycle: the report plus the alerts it raised.
type ReportArchive struct {
	collection *mongo.Collection
}

// NewReportArchive builds the archive on the given database.
func NewReportArchive(db *mongo.Database) *ReportArchive {
	return &ReportArchive{collection: db.Collection(collectionQualityReports)}
}

// EnsureIndexes creates the time index and the TTL expiry.
func (a *ReportArchive) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "generated_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type reportDocument struct {
	Report      *domain.QualityReport  `bson:"report"`
	Alerts      []*domain.QualityAlert `bson:"alerts"`
	AlertCount  int                    `bson:"alert_count"`
	GeneratedAt time.Time              `bson:"generated_at"`
	ExpiresAt   time.Time              `bson:"expires_at"`
}

// Append stores one monitor cycle.
func (a *ReportArchive) Append(ctx context.Context, report *domain.QualityReport, alerts []*domain.QualityAlert) error {
	doc := reportDocument{
		Report:      report,
		Alerts:      alerts,
		AlertCount:  len(alerts),
		GeneratedAt: report.GeneratedAt,
		ExpiresAt:   report.GeneratedAt.Add(reportTTL),
	}
	_, err := a.collection.InsertOne(ctx, doc)
	return err
}

// Recent returns the latest cycles, newest first.
func (a *ReportArchive) Recent(ctx context.Context, limit int) ([]*domain.QualityReport, error) {
	if limit <= 0 {
		limit = 24
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "generated_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := a.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var reports []*domain.QualityReport
	for cursor.Next(ctx) {
		var doc reportDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		reports = append(reports, doc.Report)
	}
	return reports, cursor.Err()
}
