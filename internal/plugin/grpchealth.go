package plugin

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
	"SiteHealthPlatform/pkg/validation"
)

// GRPCHealthCheck проверяет gRPC сервис через стандартный health протокол
type GRPCHealthCheck struct {
	logger logger.Logger
}

// NewGRPCHealthCheck создает grpc_health плагин
func NewGRPCHealthCheck(log logger.Logger) *GRPCHealthCheck {
	return &GRPCHealthCheck{logger: log}
}

// Type возвращает тип проверки
func (g *GRPCHealthCheck) Type() string { return "grpc_health" }

// DisplayName возвращает название проверки
func (g *GRPCHealthCheck) DisplayName() string { return "gRPC Health Check" }

// Description возвращает описание проверки
func (g *GRPCHealthCheck) Description() string {
	return "Verifies a gRPC server responds SERVING via the standard health checking protocol"
}

// ConfigSchema возвращает описание полей конфигурации
func (g *GRPCHealthCheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "service", Type: "string", Default: "", Description: "Service name to check, empty checks the whole server"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (g *GRPCHealthCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	return validation.ValidateHostPort(target)
}

// Execute выполняет gRPC health проверку
func (g *GRPCHealthCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	service, _ := config.GetString("service")

	start := time.Now()

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	elapsed := time.Since(start)

	if err != nil {
		g.logger.Debug("grpc health check failed",
			logger.String("target", target),
			logger.Error(err))
		return FailureOutcome(fmt.Sprintf("health check failed: %v", err)).
			WithDetail("service", service).
			WithDetail("elapsed_ms", elapsed.Milliseconds()), nil
	}

	status := resp.GetStatus()
	details := func(o *Outcome) *Outcome {
		return o.
			WithDetail("service", service).
			WithDetail("serving_status", status.String()).
			WithDetail("elapsed_ms", elapsed.Milliseconds())
	}

	if status != grpc_health_v1.HealthCheckResponse_SERVING {
		return details(FailureOutcome(fmt.Sprintf("service reported %s", status.String()))), nil
	}

	return details(SuccessOutcome("service is SERVING")), nil
}
