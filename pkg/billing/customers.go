package billing

import "context"

// UpsertCustomer creates or merge-updates a customer record. CreatedAtMs is
// assigned on first write and preserved afterwards.
func (service *Service) UpsertCustomer(ctx context.Context, accountID AccountID, customer Customer) (Customer, error) {
	nowMs := service.nowFn() * millisPerSecond
	var stored Customer
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		existing, err := transactionStore.GetCustomer(ctx, accountID, customer.CustomerID)
		switch {
		case err == nil:
			customer.CreatedAtMs = existing.CreatedAtMs
			if customer.Name == "" {
				customer.Name = existing.Name
			}
			if customer.Metadata.String() == "" || customer.Metadata.String() == "{}" {
				customer.Metadata = existing.Metadata
			}
		case isNotFound(err):
			customer.CreatedAtMs = nowMs
		default:
			return err
		}
		customer.UpdatedAtMs = nowMs
		if customer.Metadata.String() == "" {
			defaulted, metadataErr := NewMetadataJSON("")
			if metadataErr != nil {
				return metadataErr
			}
			customer.Metadata = defaulted
		}
		stored = customer
		return transactionStore.UpsertCustomer(ctx, accountID, customer)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationUpsertCustomer,
		AccountID:  accountID,
		CustomerID: customer.CustomerID,
		Error:      operationError,
	})
	if operationError != nil {
		return Customer{}, operationError
	}
	return stored, nil
}

// Customer reads one customer record.
func (service *Service) Customer(ctx context.Context, accountID AccountID, customerID CustomerID) (Customer, error) {
	return service.store.GetCustomer(ctx, accountID, customerID)
}

// Customers lists the account's customers, newest first.
func (service *Service) Customers(ctx context.Context, accountID AccountID) ([]Customer, error) {
	return service.store.ListCustomers(ctx, accountID)
}

// RemoveCustomer deletes one customer record.
func (service *Service) RemoveCustomer(ctx context.Context, accountID AccountID, customerID CustomerID) error {
	operationError := service.store.DeleteCustomer(ctx, accountID, customerID)
	service.logOperation(ctx, OperationLog{
		Operation:  operationRemoveCustomer,
		AccountID:  accountID,
		CustomerID: customerID,
		Error:      operationError,
	})
	return operationError
}
