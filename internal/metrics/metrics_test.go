package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// MetricsCollectorインターフェースの実装を検証
var _ MetricsCollector = (*Collector)(nil)

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCollectSuccess("rss_feed")
	c.RecordCollectSuccess("rss_feed")
	c.RecordCollectFailure("messaging_channel", "TIMEOUT_ERROR")
	c.RecordPostsSaved(5)
	c.RecordPostsDeduplicated(3)
	c.RecordSourcePaused("scraped_profile")
	c.RecordMediaTransferred()
	c.RecordMediaFailed()
	c.SetQueueDepth("results", 7)

	if got := testutil.ToFloat64(c.collectSuccess.WithLabelValues("rss_feed")); got != 2 {
		t.Errorf("収集成功カウンターが一致しない: got %v", got)
	}
	if got := testutil.ToFloat64(c.collectFail.WithLabelValues("messaging_channel", "TIMEOUT_ERROR")); got != 1 {
		t.Errorf("収集失敗カウンターが一致しない: got %v", got)
	}
	if got := testutil.ToFloat64(c.postsSaved); got != 5 {
		t.Errorf("保存投稿カウンターが一致しない: got %v", got)
	}
	if got := testutil.ToFloat64(c.postsDedup); got != 3 {
		t.Errorf("重複排除カウンターが一致しない: got %v", got)
	}
	if got := testutil.ToFloat64(c.sourcesPaused.WithLabelValues("scraped_profile")); got != 1 {
		t.Errorf("一時停止カウンターが一致しない: got %v", got)
	}
	if got := testutil.ToFloat64(c.queueDepth.WithLabelValues("results")); got != 7 {
		t.Errorf("キュー深さゲージが一致しない: got %v", got)
	}
}

func TestCollectorLatencyHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCollectLatency("rss_feed", 250*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "harvester_collect_latency_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("レイテンシヒストグラムが登録されるべき")
	}
}

func TestSetupMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordCollectSuccess("rss_feed")

	handler := SetupMetricsRoute(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスが一致しない: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "harvester_collect_success_total") {
		t.Error("メトリクス出力に収集成功カウンターが含まれるべき")
	}
}
