package main

import (
	"fmt"
	"os"

	"checkout-service/internal/config"
	"checkout-service/internal/infra/database"
	"checkout-service/internal/logging"
	"checkout-service/internal/repository"
	mysqlrepo "checkout-service/internal/repository/mysql"
	"checkout-service/internal/services"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "checkoutctl",
		Short: "Operator tooling for the checkout service",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")

	open := func() (*deps, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		db, err := database.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect: %w", err)
		}
		logger := logging.New(os.Stderr, "checkoutctl", cfg.LogLevel)
		orders := mysqlrepo.NewOrderRepository(db)
		rec := services.NewReconciler(orders, nil, logger)
		rec.SetGatewayName(cfg.Gateway.Name)
		return &deps{
			orders:     orders,
			reconciler: rec,
			access:     services.NewAccessService(mysqlrepo.NewAccessRepository(db), logger),
		}, nil
	}

	rootCmd.AddCommand(listOrdersCmd(open))
	rootCmd.AddCommand(simulatePaymentCmd(open))
	rootCmd.AddCommand(restoreAccessCmd(open))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type deps struct {
	orders     repository.OrderRepository
	reconciler *services.Reconciler
	access     *services.AccessService
}

type opener func() (*deps, error)
