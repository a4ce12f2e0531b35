package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// vaultABI subset of the ERC-4626 interface read by this package.
const vaultABI = `[
  {"type":"event","name":"Deposit","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"assets","type":"uint256","indexed":false},
    {"name":"shares","type":"uint256","indexed":false}]},
  {"type":"event","name":"Withdraw","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"receiver","type":"address","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"assets","type":"uint256","indexed":false},
    {"name":"shares","type":"uint256","indexed":false}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
    "inputs":[{"name":"owner","type":"address"}],
    "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"convertToAssets","stateMutability":"view",
    "inputs":[{"name":"shares","type":"uint256"}],
    "outputs":[{"name":"","type":"uint256"}]}
]`

const (
	eventDeposit  = "Deposit"
	eventWithdraw = "Withdraw"

	methodBalanceOf       = "balanceOf"
	methodConvertToAssets = "convertToAssets"
)

// owner topic position per event: Deposit(sender, owner), Withdraw(sender, receiver, owner)
const (
	depositOwnerTopic  = 2
	withdrawOwnerTopic = 3
)

func parseVaultABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(vaultABI))
}
