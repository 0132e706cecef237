package server

import (
	"context"
	"log/slog"
	"sort"

	runpb "cloud.google.com/go/run/apiv2/runpb"
	longrunningpb "google.golang.org/genproto/googleapis/longrunning"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/sisisin/wakatime-go/internal/executor"
	"github.com/sisisin/wakatime-go/internal/state"
)

type ExecutionsServer struct {
	runpb.UnimplementedExecutionsServer
	store    *state.Store
	executor executor.Executor
}

func (s *ExecutionsServer) GetExecution(ctx context.Context, req *runpb.GetExecutionRequest) (*runpb.Execution, error) {
	slog.Info("GetExecution called", "name", req.Name)

	exec, err := s.store.GetExecution(req.Name)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "execution not found: %s", req.Name)
	}

	return executionToProto(exec), nil
}

func (s *ExecutionsServer) ListExecutions(ctx context.Context, req *runpb.ListExecutionsRequest) (*runpb.ListExecutionsResponse, error) {
	slog.Info("ListExecutions called", "parent", req.Parent)

	execs := s.store.ListExecutions(req.Parent)
	sort.Slice(execs, func(i, j int) bool {
		return execs[i].Snapshot().StartTime.Before(execs[j].Snapshot().StartTime)
	})

	var pbExecs []*runpb.Execution
	for _, e := range execs {
		pbExecs = append(pbExecs, executionToProto(e))
	}

	return &runpb.ListExecutionsResponse{
		Executions: pbExecs,
	}, nil
}

func (s *ExecutionsServer) CancelExecution(ctx context.Context, req *runpb.CancelExecutionRequest) (*longrunningpb.Operation, error) {
	slog.Info("CancelExecution called", "name", req.Name)

	exec, err := s.store.GetExecution(req.Name)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "execution not found: %s", req.Name)
	}

	if st := exec.Snapshot().Status; st != state.StatusRunning {
		return nil, status.Errorf(codes.FailedPrecondition, "execution is not running: %s", st)
	}

	// The executor records the cancelled status once the attempt stops.
	if err := s.executor.Cancel(exec); err != nil {
		slog.Warn("failed to cancel execution", "error", err)
	}

	respAny, err := anypb.New(executionToProto(exec))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to marshal response: %v", err)
	}

	return &longrunningpb.Operation{
		Name:     req.Name,
		Metadata: respAny,
		Done:     false,
	}, nil
}
