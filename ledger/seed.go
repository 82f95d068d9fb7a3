package ledger

import "github.com/shopspring/decimal"

// DefaultCashBoxes are the boxes a fresh installation starts with, all at
// zero balance. Cash drawers refuse overdrafts; wallets and banks allow them.
func DefaultCashBoxes() []CashBox {
	box := func(id, name string, cur Currency, t CashBoxType, allowNeg, def bool, meta map[string]string) CashBox {
		return CashBox{
			ID: CashBoxID(id), Name: name, Currency: cur, Type: t,
			Balance: decimal.Zero, AllowsNegative: allowNeg, IsDefault: def, Metadata: meta,
		}
	}
	bank := func(name, number string) map[string]string {
		return map[string]string{"bank_name": name, "account_number": number}
	}
	company := map[string]string{"owner": "Empresa"}

	return []CashBox{
		box("cash_ars_principal", "Caja ARS Principal (Efectivo)", ARS, CashBoxCash, false, true, nil),
		box("cash_ars_secundaria", "Caja ARS Secundaria (Efectivo)", ARS, CashBoxCash, false, false, nil),
		box("cash_usd_principal", "Caja USD Principal (Efectivo)", USD, CashBoxCash, false, true, nil),
		box("cash_usd_cara_chica", "Caja USD Cara Chica (Efectivo)", USD, CashBoxCash, false, false, nil),
		box("digital_ars_mp_full", "Mercado Pago Full (ARS)", ARS, CashBoxDigitalWallet, true, false, company),
		box("digital_ars_mp_parcial", "Mercado Pago Parcial (ARS)", ARS, CashBoxDigitalWallet, true, false, company),
		box("digital_usd_usdt_general", "USDT General (TRC20)", USDT, CashBoxDigitalWallet, true, true, nil),
		box("bank_ars_galicia", "Banco Galicia (ARS)", ARS, CashBoxBankAccount, true, false, bank("Galicia", "123456/7")),
		box("bank_ars_macro", "Banco Macro (ARS)", ARS, CashBoxBankAccount, true, false, bank("Macro", "987654/3")),
		box("bank_usd_galicia", "Banco Galicia (USD)", USD, CashBoxBankAccount, true, false, bank("Galicia", "112233/4")),
		box("bank_usd_hsbc", "Banco HSBC (USD)", USD, CashBoxBankAccount, true, false, bank("HSBC", "445566/7")),
	}
}
