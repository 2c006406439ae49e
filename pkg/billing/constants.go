package billing

const (
	operationUpsertCustomer     = "upsert_customer"
	operationRemoveCustomer     = "remove_customer"
	operationUpsertEntry        = "upsert_entry"
	operationDeleteEntry        = "delete_entry"
	operationUpsertBillForRange = "upsert_bill_for_range"
	operationAddPayment         = "add_payment"
	operationSetPaidAmount      = "set_paid_amount"
	operationDeleteBill         = "delete_bill"
	operationClearBills         = "clear_bills"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultEntryListLimit = 15
	maxEntryListLimit     = 200
	defaultBillListLimit  = 200
	maxBillListLimit      = 500

	millisPerSecond = 1000
)
