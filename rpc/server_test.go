package rpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/loanflow/analytics"
	"github.com/mohitkumar/loanflow/config"
	"github.com/mohitkumar/loanflow/container"
	"github.com/mohitkumar/loanflow/metadata"
	"github.com/mohitkumar/loanflow/util"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func setupClient(t *testing.T) *grpc.ClientConn {
	conf := config.Config{
		StorageType:        config.STORAGE_TYPE_INMEM,
		EncoderDecoderType: config.JSON_ENCODER_DECODER,
		NotificationConfig: config.NotificationConfig{SinkType: config.NOTIFICATION_SINK_LOG, Timeout: time.Second, Capacity: 16},
		AnalyticsConfig:    analytics.DataCollectorConfig{CollectorType: analytics.MEMORY_DATA_COLLECTOR},
		CommitteeConfig:    config.CommitteeConfig{CommitteeRole: metadata.ROLE_CREDIT_COMMITTEE, ConflictRetries: 3},
	}
	var wg sync.WaitGroup
	dc := container.NewDiContainer(util.NewManualClock(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, dc.Init(conf, &wg))

	gsrv, err := NewGrpcServer(&GrpcConfig{LoanService: dc.GetLoanService()})
	require.NoError(t, err)
	lis := bufconn.Listen(1 << 20)
	go func() {
		_ = gsrv.Serve(lis)
	}()
	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		gsrv.Stop()
	})
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), "/"+ServiceName+"/"+method, in, out)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func TestGrpcWorkflowRoundTrip(t *testing.T) {
	conn := setupClient(t)

	def, err := invoke(t, conn, "GetActiveDefinition", map[string]any{"applicationType": metadata.DEFAULT_APPLICATION_TYPE})
	require.NoError(t, err)
	require.Equal(t, metadata.DEFAULT_DEFINITION_ID, def["id"])

	started, err := invoke(t, conn, "StartWorkflow", map[string]any{
		"applicationId": "APP-1",
		"actorUserId":   "officer-1",
		"actorRole":     string(metadata.ROLE_LOAN_OFFICER),
		"amount":        2500000.0,
	})
	require.NoError(t, err)
	require.Equal(t, string(metadata.STATUS_BRANCH_REVIEW), started["currentStatus"])
	id := started["id"].(string)

	_, err = invoke(t, conn, "Transition", map[string]any{
		"instanceId":  id,
		"action":      "Approve",
		"actorUserId": "analyst-1",
		"actorRole":   string(metadata.ROLE_CREDIT_ANALYST),
	})
	require.Error(t, err)
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	moved, err := invoke(t, conn, "Transition", map[string]any{
		"instanceId":  id,
		"action":      "approve",
		"actorUserId": "manager-1",
		"actorRole":   string(metadata.ROLE_BRANCH_MANAGER),
	})
	require.NoError(t, err)
	require.Equal(t, string(metadata.STATUS_CREDIT_ANALYSIS), moved["currentStatus"])

	history, err := invoke(t, conn, "History", map[string]any{"id": id})
	require.NoError(t, err)
	require.Len(t, history["items"], 2)

	queue, err := invoke(t, conn, "QueueForRole", map[string]any{"role": string(metadata.ROLE_CREDIT_ANALYST)})
	require.NoError(t, err)
	require.Len(t, queue["items"], 1)
}

func TestGrpcErrorCodes(t *testing.T) {
	conn := setupClient(t)

	tests := map[string]struct {
		method string
		req    map[string]any
		code   codes.Code
	}{
		"unknown instance": {
			method: "GetInstance",
			req:    map[string]any{"id": "missing"},
			code:   codes.NotFound,
		},
		"unknown action": {
			method: "Transition",
			req:    map[string]any{"instanceId": "missing", "action": "Teleport"},
			code:   codes.InvalidArgument,
		},
		"unknown review": {
			method: "GetReview",
			req:    map[string]any{"id": "missing"},
			code:   codes.NotFound,
		},
		"bad vote": {
			method: "CastVote",
			req:    map[string]any{"reviewId": "missing", "userId": "u", "vote": "Maybe"},
			code:   codes.InvalidArgument,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := invoke(t, conn, tc.method, tc.req)
			require.Error(t, err)
			require.Equal(t, tc.code, status.Code(err))
		})
	}
}
