package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/contractguard/contract-monitor/internal/model"
)

// ContractRepository persists the contract registry.
type ContractRepository struct {
	db *sqlx.DB
}

// NewContractRepository creates a contract repository.
func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// UpsertContract inserts or replaces a contract by name.
func (r *ContractRepository) UpsertContract(ctx context.Context, contract *model.RegisteredContract) error {
	row, err := encodeContract(contract)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO registered_contracts (
			contract_name, contract_version, contract_data, connection_config,
			registered_at, last_check_times, active
		) VALUES (
			:contract_name, :contract_version, :contract_data, :connection_config,
			:registered_at, :last_check_times, :active
		)
		ON CONFLICT (contract_name) DO UPDATE SET
			contract_version = EXCLUDED.contract_version,
			contract_data = EXCLUDED.contract_data,
			connection_config = EXCLUDED.connection_config,
			last_check_times = EXCLUDED.last_check_times,
			active = EXCLUDED.active`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to upsert contract %s: %w", contract.Name, err)
	}
	return nil
}

// UpdateLastCheckTime records the completion time of one check type without
// rewriting the full contract row.
func (r *ContractRepository) UpdateLastCheckTime(ctx context.Context, contractName string, checkType model.CheckType, at time.Time) error {
	patch, err := json.Marshal(map[model.CheckType]time.Time{checkType: at})
	if err != nil {
		return fmt.Errorf("failed to encode last check time: %w", err)
	}

	query := `
		UPDATE registered_contracts
		SET last_check_times = COALESCE(last_check_times, '{}'::jsonb) || $2::jsonb
		WHERE contract_name = $1`

	if _, err := r.db.ExecContext(ctx, query, contractName, patch); err != nil {
		return fmt.Errorf("failed to update last check time for %s: %w", contractName, err)
	}
	return nil
}

// GetContract loads one contract by name.
func (r *ContractRepository) GetContract(ctx context.Context, name string) (*model.RegisteredContract, error) {
	var row contractRow
	query := `SELECT * FROM registered_contracts WHERE contract_name = $1`
	if err := r.db.GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contract %s: %w", name, err)
	}
	return decodeContract(&row)
}

// ListContracts loads every stored contract, active or not.
func (r *ContractRepository) ListContracts(ctx context.Context) ([]*model.RegisteredContract, error) {
	var rows []contractRow
	query := `SELECT * FROM registered_contracts ORDER BY contract_name`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}

	contracts := make([]*model.RegisteredContract, 0, len(rows))
	for i := range rows {
		contract, err := decodeContract(&rows[i])
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, contract)
	}
	return contracts, nil
}
