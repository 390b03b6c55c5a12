package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"go.uber.org/zap"
)

func TestResult(t *testing.T) {
	t.Run("sorted orders by confidence", func(t *testing.T) {
		r := &Result{Predictions: []protocol.Prediction{
			{Class: "cat", Confidence: 0.1},
			{Class: "dog", Confidence: 0.7},
			{Class: "sun", Confidence: 0.2},
		}}

		sorted := r.Sorted()
		assert.Equal(t, []string{"dog", "sun", "cat"}, []string{sorted[0].Class, sorted[1].Class, sorted[2].Class})
		assert.Equal(t, "cat", r.Predictions[0].Class, "original is untouched")
	})

	t.Run("validate", func(t *testing.T) {
		assert.NoError(t, (&Result{Predictions: []protocol.Prediction{{Class: "cat", Confidence: 1}}}).Validate())
		assert.Error(t, (*Result)(nil).Validate())
		assert.Error(t, (&Result{}).Validate())
		assert.Error(t, (&Result{Predictions: []protocol.Prediction{{Class: "", Confidence: 0.5}}}).Validate())
		assert.Error(t, (&Result{Predictions: []protocol.Prediction{{Class: "cat", Confidence: 1.2}}}).Validate())
		assert.Error(t, (&Result{Predictions: []protocol.Prediction{{Class: "cat", Confidence: math.NaN()}}}).Validate())
	})
}

func TestWithTimeout(t *testing.T) {
	t.Run("passes results through", func(t *testing.T) {
		want := &Result{Predictions: []protocol.Prediction{{Class: "cat", Confidence: 0.9}}}
		gw := WithTimeout(GatewayFunc(func(ctx context.Context, _ string, _ []float64) (*Result, error) {
			return want, nil
		}), time.Second)

		got, err := gw.Predict(context.Background(), "", nil)
		require.NoError(t, err)
		assert.Same(t, want, got)
	})

	t.Run("times out a backend that ignores its context", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		gw := WithTimeout(GatewayFunc(func(ctx context.Context, _ string, _ []float64) (*Result, error) {
			<-release
			return nil, nil
		}), 20*time.Millisecond)

		start := time.Now()
		_, err := gw.Predict(context.Background(), "", nil)
		assert.True(t, errors.Is(err, ErrTimeout))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("backend panic becomes an error", func(t *testing.T) {
		gw := WithTimeout(GatewayFunc(func(ctx context.Context, _ string, _ []float64) (*Result, error) {
			panic("boom")
		}), time.Second)

		_, err := gw.Predict(context.Background(), "", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")
	})

	t.Run("non-positive timeout returns the gateway unchanged", func(t *testing.T) {
		p, err := NewPlaceholder(DoodleClasses, 1)
		require.NoError(t, err)
		assert.Same(t, p, WithTimeout(p, 0))
	})
}

func TestPlaceholder(t *testing.T) {
	t.Run("returns four distinct classes with examples", func(t *testing.T) {
		p, err := NewPlaceholder(DoodleClasses, 42)
		require.NoError(t, err)

		for i := 0; i < 50; i++ {
			result, err := p.Predict(context.Background(), "data:image/png;base64,AA==", make([]float64, 784))
			require.NoError(t, err)
			require.NoError(t, result.Validate())
			require.Len(t, result.Predictions, 4)

			seen := map[string]bool{}
			for _, pred := range result.Predictions {
				assert.False(t, seen[pred.Class], "duplicate class %s", pred.Class)
				seen[pred.Class] = true
				assert.Contains(t, DoodleClasses, pred.Class)
				assert.Equal(t, []string{
					ExampleURL(pred.Class, 1),
					ExampleURL(pred.Class, 2),
					ExampleURL(pred.Class, 3),
				}, result.TrainingExamples[pred.Class])
			}

			top := result.Predictions[0].Confidence
			assert.GreaterOrEqual(t, top, 0.60)
			assert.LessOrEqual(t, top, 0.90)
			assert.GreaterOrEqual(t, result.Predictions[3].Confidence, 0.01)
		}
	})

	t.Run("same seed gives same sequence", func(t *testing.T) {
		a, _ := NewPlaceholder(DigitClasses, 7)
		b, _ := NewPlaceholder(DigitClasses, 7)

		ra, _ := a.Predict(context.Background(), "", nil)
		rb, _ := b.Predict(context.Background(), "", nil)
		assert.Equal(t, ra, rb)
	})

	t.Run("needs at least four classes", func(t *testing.T) {
		_, err := NewPlaceholder([]string{"a", "b"}, 1)
		assert.Error(t, err)
	})

	t.Run("delay honours context", func(t *testing.T) {
		p, _ := NewPlaceholder(DoodleClasses, 1)
		p.WithDelay(time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := p.Predict(ctx, "", nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestClassSet(t *testing.T) {
	classes, ok := ClassSet("digit")
	require.True(t, ok)
	assert.Len(t, classes, 10)

	classes, ok = ClassSet("")
	require.True(t, ok)
	assert.Len(t, classes, 30)

	_, ok = ClassSet("animals")
	assert.False(t, ok)
}

func TestHTTPGateway(t *testing.T) {
	t.Run("posts the drawing and decodes the result", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

			var req predictRequest
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Len(t, req.ModelData, 784)
			assert.Equal(t, "data:image/png;base64,AA==", req.DisplayImage)

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"predictions":[{"class":"cat","confidence":0.8}],"trainingExamples":{"cat":["/a"]}}`))
		}))
		defer srv.Close()

		gw, err := NewHTTPGateway().WithURL(srv.URL).WithHeader("X-Api-Key", "secret").WithLogger(zap.NewNop()).Build()
		require.NoError(t, err)

		result, err := gw.Predict(context.Background(), "data:image/png;base64,AA==", make([]float64, 784))
		require.NoError(t, err)
		assert.Equal(t, []protocol.Prediction{{Class: "cat", Confidence: 0.8}}, result.Predictions)
		assert.Equal(t, []string{"/a"}, result.TrainingExamples["cat"])
	})

	t.Run("reshapes responses with jq", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"labels":[{"name":"7","score":0.93},{"name":"1","score":0.04}]}`))
		}))
		defer srv.Close()

		gw, err := NewHTTPGateway().
			WithURL(srv.URL).
			WithResponseJq(`{predictions: [.labels[] | {class: .name, confidence: .score}]}`).
			Build()
		require.NoError(t, err)

		result, err := gw.Predict(context.Background(), "", nil)
		require.NoError(t, err)
		require.Len(t, result.Predictions, 2)
		assert.Equal(t, "7", result.Predictions[0].Class)
		assert.InDelta(t, 0.93, result.Predictions[0].Confidence, 1e-9)
	})

	t.Run("error status is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		gw, err := NewHTTPGateway().WithURL(srv.URL).Build()
		require.NoError(t, err)

		_, err = gw.Predict(context.Background(), "", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("build validation", func(t *testing.T) {
		_, err := NewHTTPGateway().Build()
		assert.Error(t, err)

		_, err = NewHTTPGateway().WithURL("http://x").WithResponseJq(".[").Build()
		assert.Error(t, err)
	})
}
