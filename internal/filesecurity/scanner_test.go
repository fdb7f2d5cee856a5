package filesecurity_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/filesecurity"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleanEngine(name string) *filesecurity.StaticEngine {
	return &filesecurity.StaticEngine{EngineName: name, Result: models.EngineResult{Status: models.ScanClean}}
}

func infectedEngine(name, threat string) *filesecurity.StaticEngine {
	return &filesecurity.StaticEngine{EngineName: name, Result: models.EngineResult{
		Status:  models.ScanInfected,
		Threats: []models.DetectedThreat{{Name: threat, Type: filesecurity.ClassifyThreat(threat), Engine: name, Confidence: 0.9}},
	}}
}

func failingEngine(name string) *filesecurity.StaticEngine {
	return &filesecurity.StaticEngine{EngineName: name, Err: errors.New("connection refused")}
}

func TestVirusScanner_CleanResultIsCached(t *testing.T) {
	kv, mr := newTestStore(t)
	a, b := cleanEngine("a"), cleanEngine("b")
	scanner := filesecurity.NewVirusScanner(kv, []filesecurity.Engine{a, b}, filesecurity.ScannerConfig{}, newTestLogger())
	data := []byte("%PDF-1.4 clean")

	first := scanner.Scan(context.Background(), "a.pdf", data)
	second := scanner.Scan(context.Background(), "a.pdf", data)

	assert.Equal(t, models.ScanClean, first.Status)
	assert.Equal(t, 1.0, first.Confidence)
	assert.ElementsMatch(t, []string{"a", "b"}, first.EnginesUsed)
	assert.False(t, first.Cached)

	assert.True(t, second.Cached)
	assert.Equal(t, models.ScanClean, second.Status)
	assert.Equal(t, 1, a.Calls())
	assert.True(t, mr.Exists("scan_result:"+filesecurity.HashBytes(data)))
}

func TestVirusScanner_AllEnginesAgreeIsInfected(t *testing.T) {
	kv, _ := newTestStore(t)
	engines := []filesecurity.Engine{
		infectedEngine("a", "Win.Trojan.Agent"),
		infectedEngine("b", "win.trojan.agent"),
	}
	scanner := filesecurity.NewVirusScanner(kv, engines, filesecurity.ScannerConfig{}, newTestLogger())

	res := scanner.Scan(context.Background(), "x.pdf", []byte("payload"))

	assert.Equal(t, models.ScanInfected, res.Status)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	require.Len(t, res.Threats, 1)
	assert.Equal(t, models.ThreatTrojan, res.Threats[0].Type)
}

func TestVirusScanner_PartialAgreementIsSuspicious(t *testing.T) {
	kv, _ := newTestStore(t)
	engines := []filesecurity.Engine{infectedEngine("a", "Eicar-Test-Signature"), cleanEngine("b")}
	scanner := filesecurity.NewVirusScanner(kv, engines, filesecurity.ScannerConfig{}, newTestLogger())

	res := scanner.Scan(context.Background(), "x.pdf", []byte("payload"))

	assert.Equal(t, models.ScanSuspicious, res.Status)
	assert.InDelta(t, 0.25, res.Confidence, 1e-9)
}

func TestVirusScanner_ErroredEngineIsSkipped(t *testing.T) {
	kv, _ := newTestStore(t)
	engines := []filesecurity.Engine{failingEngine("a"), cleanEngine("b")}
	scanner := filesecurity.NewVirusScanner(kv, engines, filesecurity.ScannerConfig{}, newTestLogger())

	res := scanner.Scan(context.Background(), "x.pdf", []byte("payload"))

	assert.Equal(t, models.ScanClean, res.Status)
	assert.Equal(t, []string{"b"}, res.EnginesUsed)
	require.Len(t, res.EngineResults, 2)
	assert.Equal(t, models.ScanError, res.EngineResults[0].Status)
	assert.Contains(t, res.EngineResults[0].Error, "connection refused")
}

func TestVirusScanner_AllEnginesFailedIsIndeterminate(t *testing.T) {
	kv, mr := newTestStore(t)
	scanner := filesecurity.NewVirusScanner(kv, []filesecurity.Engine{failingEngine("a")}, filesecurity.ScannerConfig{}, newTestLogger())
	data := []byte("payload")

	res := scanner.Scan(context.Background(), "x.pdf", data)

	assert.Equal(t, models.ScanError, res.Status)
	assert.False(t, mr.Exists("scan_result:"+filesecurity.HashBytes(data)))
}

func TestVirusScanner_NoEnginesIsIndeterminate(t *testing.T) {
	kv, _ := newTestStore(t)
	scanner := filesecurity.NewVirusScanner(kv, nil, filesecurity.ScannerConfig{}, newTestLogger())

	res := scanner.Scan(context.Background(), "x.pdf", []byte("payload"))

	assert.Equal(t, models.ScanError, res.Status)
}

func TestVirusScanner_EngineTimeout(t *testing.T) {
	kv, _ := newTestStore(t)
	slow := cleanEngine("slow")
	slow.Delay = time.Second
	scanner := filesecurity.NewVirusScanner(kv, []filesecurity.Engine{slow},
		filesecurity.ScannerConfig{EngineTimeout: 20 * time.Millisecond}, newTestLogger())

	res := scanner.Scan(context.Background(), "x.pdf", []byte("payload"))

	assert.Equal(t, models.ScanError, res.Status)
	assert.Contains(t, res.EngineResults[0].Error, "timed out")
}

func TestVirusScanner_StoreDownStillScans(t *testing.T) {
	kv, mr := newTestStore(t)
	mr.Close()
	scanner := filesecurity.NewVirusScanner(kv, []filesecurity.Engine{cleanEngine("a")}, filesecurity.ScannerConfig{}, newTestLogger())

	res := scanner.Scan(context.Background(), "x.pdf", []byte("payload"))

	assert.Equal(t, models.ScanClean, res.Status)
}

func TestClassifyThreat(t *testing.T) {
	tests := map[string]models.ThreatType{
		"Win.Trojan.Agent-123":    models.ThreatTrojan,
		"W97M.Virus.Melissa":      models.ThreatVirus,
		"Ransom.WannaCry":         models.ThreatRansomware,
		"CryptoLocker":            models.ThreatRansomware,
		"Adware.Generic":          models.ThreatAdware,
		"Heur.Suspicious.Packer":  models.ThreatSuspiciousBehavior,
		"Rootkit.Necurs":          models.ThreatRootkit,
		"Eicar-Test-Signature":    models.ThreatUnknown,
		"Generic.Malware.Sdld":    models.ThreatMalware,
		"Email-Worm.Win32.Mydoom": models.ThreatWorm,
	}
	for name, want := range tests {
		assert.Equal(t, want, filesecurity.ClassifyThreat(name), name)
	}
}

func reputationServer(t *testing.T, handler http.HandlerFunc) *filesecurity.ReputationEngine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return filesecurity.NewReputationEngine(srv.URL, "key", srv.Client(), newTestLogger())
}

func writeReport(w http.ResponseWriter, positives, total int) {
	scans := map[string]interface{}{}
	for i := 0; i < total; i++ {
		name := "engine" + string(rune('a'+i))
		scans[name] = map[string]interface{}{"detected": i < positives, "result": "Trojan.Gen"}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"response_code": 1, "positives": positives, "total": total, "scans": scans,
	})
}

func TestReputationEngine_Verdicts(t *testing.T) {
	tests := []struct {
		name      string
		positives int
		total     int
		want      models.ScanStatus
	}{
		{"clean", 0, 10, models.ScanClean},
		{"minority positive is suspicious", 2, 10, models.ScanSuspicious},
		{"majority positive is infected", 5, 10, models.ScanInfected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := reputationServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/file/report", r.URL.Path)
				assert.Equal(t, "abc", r.URL.Query().Get("resource"))
				writeReport(w, tt.positives, tt.total)
			})

			res, err := engine.Scan(context.Background(), "x.pdf", nil, "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Len(t, res.Threats, tt.positives)
			for _, th := range res.Threats {
				assert.Equal(t, 0.8, th.Confidence)
			}
		})
	}
}

func TestReputationEngine_UnknownHash(t *testing.T) {
	engine := reputationServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response_code":0}`))
	})

	_, err := engine.Scan(context.Background(), "x.pdf", nil, "abc")
	assert.ErrorIs(t, err, filesecurity.ErrHashUnknown)
}

func TestReputationEngine_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	engine := reputationServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeReport(w, 0, 3)
	})

	res, err := engine.Scan(context.Background(), "x.pdf", nil, "abc")
	require.NoError(t, err)
	assert.Equal(t, models.ScanClean, res.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReputationEngine_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	engine := reputationServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := engine.Scan(context.Background(), "x.pdf", nil, "abc")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
