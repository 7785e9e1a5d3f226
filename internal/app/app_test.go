package app

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"CoverityPublisher/internal/config"
	"CoverityPublisher/internal/infrastructure/memory"
)

// pagedServer answers getMergedDefectsForStreams with total synthetic defects.
func pagedServer(t *testing.T, total int) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Body struct {
				Call struct {
					PageSpec struct {
						PageSize   int `xml:"pageSize"`
						StartIndex int `xml:"startIndex"`
					} `xml:"pageSpec"`
				} `xml:"getMergedDefectsForStreams"`
			} `xml:"Body"`
		}
		if err := xml.Unmarshal(raw, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		spec := req.Body.Call.PageSpec
		end := min(spec.StartIndex+spec.PageSize, total)

		var b strings.Builder
		b.WriteString(`<S:Envelope xmlns:S="http://schemas.xmlsoap.org/soap/envelope/"><S:Body>`)
		b.WriteString(`<ns2:getMergedDefectsForStreamsResponse xmlns:ns2="http://ws.coverity.com/v9"><return>`)
		for i := spec.StartIndex; i < end; i++ {
			fmt.Fprintf(&b, `<mergedDefects><cid>%d</cid><mergeKey>mk%06d</mergeKey>`+
				`<checkerName>TEST_CHECKER</checkerName><componentName>Default.Other</componentName>`+
				`<displayImpact>Medium</displayImpact><firstDetected>2017-06-01T00:00:00Z</firstDetected>`+
				`<defectStateAttributeValues><attributeDefinitionId><name>Action</name></attributeDefinitionId>`+
				`<attributeValueId><name>Undecided</name></attributeValueId></defectStateAttributeValues>`+
				`</mergedDefects>`, 20000+i, i)
		}
		fmt.Fprintf(&b, `<totalNumberOfRecords>%d</totalNumberOfRecords>`, total)
		b.WriteString(`</return></ns2:getMergedDefectsForStreamsResponse></S:Body></S:Envelope>`)

		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		_, _ = w.Write([]byte(b.String()))
	}))
}

func TestPublishAgainstConnect(t *testing.T) {
	server := pagedServer(t, 2500)
	defer server.Close()

	t.Setenv("COVERITY_STORE_DSN", filepath.Join(t.TempDir(), "records.db"))
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
logging:
  level: error
instances:
  - name: cim-instance
    url: %s
    requestsPerSecond: 1000
streams:
  - instance: cim-instance
    project: test-project
    stream: test-stream
    filters:
      impacts: [Medium+]
      checkers: [TEST_CHECKER]
      cutoffDate: "2017-01-01"
`, server.URL)))
	require.NoError(t, err)

	ctx := context.Background()
	application, err := New(ctx, cfg, nil, Deps{})
	require.NoError(t, err)
	defer application.Close()

	var console bytes.Buffer
	report, err := application.Publish(ctx, BuildInfo{ID: "42", RootURL: "https://ci.example.com", URL: "job/app/42"}, &console)
	require.NoError(t, err)
	require.True(t, report.Success())
	require.Equal(t, 2500, report.Total)

	require.Equal(t, strings.Join([]string{
		`[Coverity] Fetching defects for stream "test-stream"`,
		`[Coverity] Fetching defects for stream "test-stream" (fetched 1000 of 2500)`,
		`[Coverity] Fetching defects for stream "test-stream" (fetched 2000 of 2500)`,
		`[Coverity] Found 2500 defects matching all filters`,
		`Coverity details: https://ci.example.com/job/app/42/coverity_cim-instance_test-project_test-stream`,
	}, "\n")+"\n", console.String())

	action, err := application.Load(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, 2500, action.Total())
	require.Equal(t, "mk000000", action.Defects()[0].MergeKey)
}

func TestPublishGeneratesBuildID(t *testing.T) {
	cfg, err := config.Parse([]byte(`
instances: [{name: cim-instance, url: "http://cim:8080"}]
streams: [{instance: cim-instance, project: test-project, stream: test-stream}]
`))
	require.NoError(t, err)

	svc := memory.NewService()
	svc.Seed("test-project", "test-stream", memory.GenerateDefects(3, memory.MatchingDefect()))
	sink := memory.NewSink()

	application, err := New(context.Background(), cfg, nil, Deps{
		Sessions: memory.NewSessions(map[string]*memory.Service{"cim-instance": svc}),
		Store:    sink,
	})
	require.NoError(t, err)

	report, err := application.Publish(context.Background(), BuildInfo{RootURL: "rootUrl/", URL: "buildUrl/"}, io.Discard)
	require.NoError(t, err)
	require.NotEmpty(t, report.BuildID)
	require.Equal(t, []string{report.BuildID}, sink.Attached())
}
