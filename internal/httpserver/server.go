package httpserver

import (
	"context"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/orchestrator"
	"github.com/hasanmaki/mkit-idv-next/internal/service/binding"
	"github.com/hasanmaki/mkit-idv-next/internal/service/transaction"
)

// Pinger is the minimal interface for a readiness-checkable dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds every dependency the HTTP handlers need: the repositories
// (for simple CRUD resources with no service-layer behavior of their own),
// the binding/transaction services, the orchestrator control service, the
// scoped provider factory (for /tools passthroughs), and the readiness
// checks for /readyz.
type Server struct {
	Servers      domain.ServerRepository
	Accounts     domain.AccountRepository
	Bindings     domain.BindingRepository
	Transactions domain.TransactionRepository

	BindingService     *binding.Service
	TransactionService *transaction.Service
	Control            *orchestrator.ControlService

	Provider func(domain.ServerInstance) domain.ProviderAdapter

	DB    Pinger
	Redis Pinger

	Debug bool
}

// NewServer constructs a Server.
func NewServer(
	servers domain.ServerRepository,
	accounts domain.AccountRepository,
	bindings domain.BindingRepository,
	transactions domain.TransactionRepository,
	bindingSvc *binding.Service,
	transactionSvc *transaction.Service,
	control *orchestrator.ControlService,
	provider func(domain.ServerInstance) domain.ProviderAdapter,
	db, redis Pinger,
	debug bool,
) *Server {
	return &Server{
		Servers: servers, Accounts: accounts, Bindings: bindings, Transactions: transactions,
		BindingService: bindingSvc, TransactionService: transactionSvc, Control: control,
		Provider: provider, DB: db, Redis: redis, Debug: debug,
	}
}
