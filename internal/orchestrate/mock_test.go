package orchestrate

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/fraud-pipeline/internal/etl"
)

type mockStages struct{ mock.Mock }

func (m *mockStages) CheckStore(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStages) LoadRaw(ctx context.Context, source string) (*etl.LoadResult, error) {
	args := m.Called(ctx, source)
	res, _ := args.Get(0).(*etl.LoadResult)
	return res, args.Error(1)
}

func (m *mockStages) RebuildView(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStages) Train(ctx context.Context, pipelineID string) (*TrainSummary, error) {
	args := m.Called(ctx, pipelineID)
	res, _ := args.Get(0).(*TrainSummary)
	return res, args.Error(1)
}

func (m *mockStages) Validate(ctx context.Context) (*etl.ValidationReport, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*etl.ValidationReport)
	return res, args.Error(1)
}

func (m *mockStages) Cleanup(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// happyStages expects one successful pass through every stage.
func happyStages(source string) *mockStages {
	st := &mockStages{}
	st.On("CheckStore", mock.Anything).Return(nil)
	if source != "" {
		st.On("LoadRaw", mock.Anything, source).Return(&etl.LoadResult{Source: source, Rows: 500}, nil)
	}
	st.On("RebuildView", mock.Anything).Return(nil)
	st.On("Train", mock.Anything, mock.Anything).Return(&TrainSummary{
		BestRunID: "run-2",
		BestModel: "boosted_trees_exact",
		Trained:   []string{"logistic_regression", "boosted_trees_exact"},
	}, nil)
	st.On("Validate", mock.Anything).Return(&etl.ValidationReport{Total: 500, Fraud: 50, Legit: 450, Sufficient: true}, nil)
	st.On("Cleanup", mock.Anything).Return(2, nil)
	return st
}
