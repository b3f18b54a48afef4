package manager

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/sigweihq/simchain/pkg/config"
	"github.com/sigweihq/simchain/pkg/manager"
	"github.com/sigweihq/simchain/pkg/types"
)

// DevnetE2ETestSuite runs against real test networks described by a config file.
//
// Run with:
//
//	SIMCHAIN_E2E_CONFIG=simchain.toml SIMCHAIN_E2E_SIM=+15551234567 SIMCHAIN_E2E_PIN=123456 \
//	  go test -v ./pkg/manager/test/e2e/
type DevnetE2ETestSuite struct {
	suite.Suite
	manager *manager.Manager
	sim     string
	pin     string
	target  string
	logger  *slog.Logger
}

// SetupSuite initializes the test suite
func (suite *DevnetE2ETestSuite) SetupSuite() {
	if testing.Short() {
		suite.T().Skip("skipping e2e test in short mode")
	}

	configPath := os.Getenv("SIMCHAIN_E2E_CONFIG")
	if configPath == "" {
		suite.T().Skip("SIMCHAIN_E2E_CONFIG not set, skipping devnet E2E tests")
	}
	suite.sim = os.Getenv("SIMCHAIN_E2E_SIM")
	suite.pin = os.Getenv("SIMCHAIN_E2E_PIN")
	if suite.sim == "" || suite.pin == "" {
		suite.T().Skip("SIMCHAIN_E2E_SIM and SIMCHAIN_E2E_PIN must be set")
	}

	suite.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg, err := config.Load(configPath, ".env")
	suite.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	suite.manager, err = manager.NewFromConfig(ctx, cfg, nil, suite.logger)
	suite.Require().NoError(err)

	for _, id := range suite.manager.SupportedChains() {
		if id != suite.manager.AuthorityChain() {
			suite.target = id
			break
		}
	}
	if suite.target == "" {
		suite.T().Skip("config has no secondary chain")
	}
}

func (suite *DevnetE2ETestSuite) TearDownSuite() {
	if suite.manager != nil {
		suite.manager.Close()
	}
}

func (suite *DevnetE2ETestSuite) TestConnections() {
	ctx := context.Background()
	for _, id := range suite.manager.SupportedChains() {
		suite.True(suite.manager.TestConnection(ctx, id), "chain %s unreachable", id)
	}
}

func (suite *DevnetE2ETestSuite) TestAuthorityPin() {
	result, err := suite.manager.Execute(context.Background(), types.Operation{
		Type:        types.OpValidatePin,
		TargetChain: suite.manager.AuthorityChain(),
		Sim:         suite.sim,
		Pin:         suite.pin,
	})
	suite.Require().NoError(err)
	suite.True(result.OK)
}

func (suite *DevnetE2ETestSuite) TestWalletInfo() {
	for _, id := range suite.manager.SupportedChains() {
		wallet, err := suite.manager.GetWalletInfo(context.Background(), id, suite.sim)
		suite.Require().NoError(err)
		suite.NotEmpty(wallet.Address)
		suite.logger.Info("wallet", "chain", id, "address", wallet.Address, "balance", wallet.Balance.String())
	}
}

func (suite *DevnetE2ETestSuite) TestSmallTransfer() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := suite.manager.CrossChainTransfer(ctx, types.CrossChainTransfer{
		Sim:         suite.sim,
		Pin:         suite.pin,
		SourceChain: suite.manager.AuthorityChain(),
		TargetChain: suite.target,
		Amount:      decimal.RequireFromString("0.001"),
	})
	suite.Require().NoError(err)
	suite.Equal(types.TransferConfirmed, result.Status)
	suite.NotEmpty(result.SourceTx)
	suite.NotEmpty(result.TargetTx)
}

func TestDevnetE2ETestSuite(t *testing.T) {
	suite.Run(t, new(DevnetE2ETestSuite))
}
