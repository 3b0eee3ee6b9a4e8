package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"labsight-go/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/datatypes"
)

// reportDocument 是报告在 MongoDB 中的存储形态，ai_result_json 保存为嵌套文档。
type reportDocument struct {
	ID             primitive.ObjectID    `bson:"_id,omitempty"`
	TestName       string                `bson:"test_name"`
	Filename       string                `bson:"filename,omitempty"`
	ReportImageURL string                `bson:"report_image_url"`
	AIResult       *model.AnalysisResult `bson:"ai_result_json"`
	CreatedAt      time.Time             `bson:"created_at"`
}

type mongoReportRepository struct {
	coll *mongo.Collection
}

// NewMongoReportRepository 创建一个基于 MongoDB 集合的 ReportRepository 实例。
func NewMongoReportRepository(coll *mongo.Collection) ReportRepository {
	return &mongoReportRepository{coll: coll}
}

func toDocument(r *model.Report) (*reportDocument, error) {
	res, err := r.AnalysisResult()
	if err != nil {
		return nil, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return &reportDocument{
		TestName:       r.TestName,
		Filename:       r.Filename,
		ReportImageURL: r.ReportImageURL,
		AIResult:       res,
		CreatedAt:      r.CreatedAt,
	}, nil
}

func (d *reportDocument) toReport() (model.Report, error) {
	raw, err := json.Marshal(d.AIResult)
	if err != nil {
		return model.Report{}, err
	}
	return model.Report{
		DocumentID:     d.ID.Hex(),
		TestName:       d.TestName,
		Filename:       d.Filename,
		ReportImageURL: d.ReportImageURL,
		AIResultJSON:   datatypes.JSON(raw),
		CreatedAt:      d.CreatedAt,
	}, nil
}

func (r *mongoReportRepository) Create(ctx context.Context, report *model.Report) error {
	doc, err := toDocument(report)
	if err != nil {
		return err
	}
	res, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		report.DocumentID = oid.Hex()
	}
	return nil
}

func (r *mongoReportRepository) CreateBatch(ctx context.Context, reports []*model.Report) error {
	if len(reports) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(reports))
	for _, report := range reports {
		doc, err := toDocument(report)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	res, err := r.coll.InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("insert reports: %w", err)
	}
	for i, id := range res.InsertedIDs {
		if oid, ok := id.(primitive.ObjectID); ok && i < len(reports) {
			reports[i].DocumentID = oid.Hex()
		}
	}
	return nil
}

func (r *mongoReportRepository) FindAll(ctx context.Context) ([]model.Report, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find reports: %w", err)
	}
	defer cur.Close(ctx)

	var docs []reportDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode reports: %w", err)
	}
	reports := make([]model.Report, 0, len(docs))
	for _, d := range docs {
		rep, err := d.toReport()
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}
