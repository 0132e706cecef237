// Package server is a local Cloud Run Jobs endpoint. RunJob executes the
// downloader job request on this machine, so the Cloud Run trigger path can
// be exercised without deploying.
package server

import (
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	runpb "cloud.google.com/go/run/apiv2/runpb"
	"github.com/sisisin/wakatime-go/internal/executor"
	"github.com/sisisin/wakatime-go/internal/jobbody"
	"github.com/sisisin/wakatime-go/internal/state"
)

// Job is a job served by the endpoint.
type Job struct {
	// projects/{project}/locations/{region}/jobs/{job}
	Name           string
	Template       jobbody.Template
	ServiceAccount string
	// Args are used when a run does not override them.
	Args []string
	// Env holds local values for the template's secret variables.
	Env map[string]string
}

type Server struct {
	grpcServer *grpc.Server
}

func New(store *state.Store, exec executor.Executor, jobs ...Job) *Server {
	gs := grpc.NewServer()

	jobsSvc := &JobsServer{
		store:    store,
		executor: exec,
		jobs:     make(map[string]Job, len(jobs)),
	}
	for _, j := range jobs {
		jobsSvc.jobs[j.Name] = j
	}
	runpb.RegisterJobsServer(gs, jobsSvc)

	runpb.RegisterExecutionsServer(gs, &ExecutionsServer{
		store:    store,
		executor: exec,
	})

	// Enable gRPC reflection for grpcurl and debugging
	reflection.Register(gs)

	return &Server{grpcServer: gs}
}

func (s *Server) Start(port string) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", port, err)
	}

	slog.Info("starting gRPC server", "port", port)
	return s.grpcServer.Serve(lis)
}

// Serve starts the server on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
