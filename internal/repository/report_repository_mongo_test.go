package repository

import (
	"context"
	"testing"
	"time"

	"labsight-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"gorm.io/datatypes"
)

func TestMongoReportRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		repo := NewMongoReportRepository(mt.Coll)

		report := &model.Report{
			TestName:       "CBC",
			ReportImageURL: "https://img.example/a.jpg",
			AIResultJSON:   datatypes.JSON(`{"summary":{"overallStatus":"Normal"}}`),
		}
		require.NoError(t, repo.Create(context.Background(), report))
		assert.NotEmpty(t, report.DocumentID)
		assert.False(t, report.CreatedAt.IsZero())
	})

	mt.Run("create rejects malformed result", func(mt *mtest.T) {
		repo := NewMongoReportRepository(mt.Coll)
		err := repo.Create(context.Background(), &model.Report{
			TestName:     "CBC",
			AIResultJSON: datatypes.JSON(`{"parameters":"oops"`),
		})
		assert.Error(t, err)
	})

	mt.Run("find all", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		id := primitive.NewObjectID()
		created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: id},
				{Key: "test_name", Value: "CBC"},
				{Key: "report_image_url", Value: "https://img.example/a.jpg"},
				{Key: "ai_result_json", Value: bson.D{
					{Key: "summary", Value: bson.D{{Key: "overallStatus", Value: "Abnormal"}}},
				}},
				{Key: "created_at", Value: created},
			},
			bson.D{
				{Key: "_id", Value: primitive.NewObjectID()},
				{Key: "test_name", Value: "CBC"},
				{Key: "report_image_url", Value: "https://img.example/b.jpg"},
				{Key: "ai_result_json", Value: nil},
				{Key: "created_at", Value: created.Add(-time.Hour)},
			},
		))
		repo := NewMongoReportRepository(mt.Coll)

		reports, err := repo.FindAll(context.Background())
		require.NoError(t, err)
		require.Len(t, reports, 2)
		assert.Equal(t, id.Hex(), reports[0].DocumentID)

		res, err := reports[0].AnalysisResult()
		require.NoError(t, err)
		assert.Equal(t, model.OverallAbnormal, res.Summary.OverallStatus)

		res, err = reports[1].AnalysisResult()
		require.NoError(t, err)
		assert.Nil(t, res)
	})
}
