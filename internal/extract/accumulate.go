package extract

// Merge appends lots to the symbol entry for (accountID, symbol), creating
// the account and symbol entries on first sight. Lots are concatenated, not
// deduplicated; merging the same lots twice records them twice.
func (d *AccumulatedData) Merge(accountID, symbol string, lots []Lot) {
	acct := d.account(accountID)
	for i := range acct.Symbols {
		if acct.Symbols[i].Symbol == symbol {
			acct.Symbols[i].Lots = append(acct.Symbols[i].Lots, lots...)
			return
		}
	}
	acct.Symbols = append(acct.Symbols, SymbolLots{Symbol: symbol, Lots: append([]Lot(nil), lots...)})
}

// account returns the entry for accountID, appending a new one in discovery
// order when absent.
func (d *AccumulatedData) account(accountID string) *AccountLots {
	for i := range d.Accounts {
		if d.Accounts[i].AccountID == accountID {
			return &d.Accounts[i]
		}
	}
	d.Accounts = append(d.Accounts, AccountLots{AccountID: accountID})
	return &d.Accounts[len(d.Accounts)-1]
}
