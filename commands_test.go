package main

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Commvault/cvpysdk-sub002/internal/testutil"
	"github.com/Commvault/cvpysdk-sub002/ops"
	"github.com/Commvault/cvpysdk-sub002/vsa"
)

const (
	rolesBody    = `{"roleProperties":[{"role":{"roleName":"Viewer","roleId":4}},{"role":{"roleName":"Master","roleId":1}}]}`
	tagsBody     = `{"tagSetInfo":{"id":5},"tags":[{"id":11,"name":"Prod"},{"id":12,"name":"Dev"},{"id":13,"name":"Lab"}]}`
	activityPath = "/V4/CommCell/ActivityControl"
	activityBody = `{"acObjects":[
		{"activityType":128,"enabled":true,"reEnableTime":0},
		{"activityType":1,"enabled":false,"reEnableTime":1700003600}]}`
	metricsPath = "/CommServ/MetricsReporting"
	metricsBody = `{"config":{"cloud":{},"scriptDownloadTime":1700000000,"lastCollectionTime":1700000100,"lastUploadTime":1700000200}}`
)

func TestRunList(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, "/Role", rolesBody).
		WithJSON(http.MethodGet, "/V4/Tags/AssociatedEntities", tagsBody).
		Build()
	defer srv.Close()
	sess := newTestSession(t, srv)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runList(ctx, &out, sess, "roles"))
	text := out.String()
	assert.Contains(t, text, "NAME")
	assert.Contains(t, text, "master")
	assert.Contains(t, text, "2 roles")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("master")), bytes.Index(out.Bytes(), []byte("viewer")))

	out.Reset()
	require.NoError(t, runList(ctx, &out, sess, "TAGS"))
	assert.Contains(t, out.String(), "prod")
	assert.Contains(t, out.String(), "3 tags")

	err := runList(ctx, &out, sess, "jobs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown collection "jobs"`)
}

func TestRunListKMS(t *testing.T) {
	const body = `{"keyProviders":[
		{"keyProviderType":3,"provider":{"keyProviderName":"AWS-Prod","keyProviderId":5}},
		{"keyProviderType":2,"provider":{"keyProviderName":"kmip01","keyProviderId":"7"}}]}`
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, "/CommCell/KeyManagementServers", body).Build()
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, runList(context.Background(), &out, newTestSession(t, srv), "kms"))
	text := out.String()
	assert.Contains(t, text, "aws-prod")
	assert.Contains(t, text, "KEY_PROVIDER_AWS_KMS")
	assert.Contains(t, text, "KEY_PROVIDER_KMIP")
	assert.Contains(t, text, "2 kms")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("aws-prod")), bytes.Index(out.Bytes(), []byte("kmip01")))
}

func TestRunListReportsServerErrors(t *testing.T) {
	srv := testutil.NewMockServer().
		WithStatus(http.MethodGet, "/Role", http.StatusUnauthorized, `{"errorMessage":"bad token"}`).
		Build()
	defer srv.Close()

	err := runList(context.Background(), &bytes.Buffer{}, newTestSession(t, srv), "roles")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing roles")
}

func TestParseActivity(t *testing.T) {
	tests := []struct {
		input   string
		want    ops.ActivityType
		wantErr bool
	}{
		{input: "DATA MANAGEMENT", want: ops.DataManagement},
		{input: "data-management", want: ops.DataManagement},
		{input: "offline_content_indexing", want: ops.OfflineContentIndexing},
		{input: " all activity ", want: ops.AllActivity},
		{input: "backups", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseActivity(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "data-management")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunActivity(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, activityPath, activityBody).
		WithJSON(http.MethodPost, "/CommCell/ActivityControl/1/Action/Enable", testutil.TopLevelOK).
		Build()
	defer srv.Close()
	ac := ops.NewActivityControl(newTestSession(t, srv).cc)
	ctx := context.Background()

	t.Run("status table", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runActivity(ctx, &out, ac, nil))
		assert.Contains(t, out.String(), "ALL ACTIVITY")
		assert.Contains(t, out.String(), "DATA MANAGEMENT")
		assert.Contains(t, out.String(), "ago")
		assert.NotContains(t, out.String(), "DATA AGING")
	})

	t.Run("single activity", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runActivity(ctx, &out, ac, []string{"data-management"}))
		assert.Equal(t, "DATA MANAGEMENT: disabled\n", out.String())
	})

	t.Run("enable", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runActivity(ctx, &out, ac, []string{"enable", "data-management"}))
		assert.Equal(t, "DATA MANAGEMENT: enabled\n", out.String())
		assert.Equal(t, 1, srv.Count(http.MethodPost, "/CommCell/ActivityControl/1/Action/Enable"))
	})

	t.Run("unknown action", func(t *testing.T) {
		err := runActivity(ctx, &bytes.Buffer{}, ac, []string{"pause", "data-management"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown action "pause"`)
	})
}

func TestRunMetricsWait(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, metricsPath, metricsBody).Build()
	defer srv.Close()
	sess := newTestSession(t, srv)
	m := ops.NewCloudMetrics(sess.cc, ops.WithPollInterval(time.Millisecond)).Metrics
	ctx := context.Background()

	for _, stage := range []string{"download", "collection", "upload"} {
		t.Run(stage, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, runMetricsWait(ctx, &out, m, stage, 0))
			assert.Contains(t, out.String(), stage+" completed")
			assert.Contains(t, out.String(), "ago")
		})
	}

	err := runMetricsWait(ctx, &bytes.Buffer{}, m, "archive", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown metrics stage "archive"`)
}

func TestRunBrowse(t *testing.T) {
	const answer = `{"browseResponses":[{"respType":0,"browseResult":{"dataResultSet":[
		{"displayName":"web01","name":"5012a3b4-web","path":"\\5012a3b4-web","size":"4096","modificationTime":1700000000},
		{"displayName":"db01","name":"5012c9d8-db","path":"\\5012c9d8-db","size":8192}]}}]}`
	srv := testutil.NewMockServer().WithJSON(http.MethodPost, "/DoBrowse", answer).Build()
	defer srv.Close()
	sess := newTestSession(t, srv)

	bs := sess.backupset(vsa.Entity{ClientName: "vcenter01", ClientID: 12, BackupsetName: "defaultBackupSet", BackupsetID: 7})
	var out bytes.Buffer
	require.NoError(t, runBrowse(context.Background(), &out, bs, vsa.BrowseOptions{Paths: []string{`\`}}))

	text := out.String()
	assert.Contains(t, text, `\5012a3b4-web`)
	assert.Contains(t, text, "4.1 kB")
	assert.Contains(t, text, "2 items, 12 kB")
	assert.Equal(t, 1, srv.Count(http.MethodPost, "/DoBrowse"))
}
