package svm

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// PDA seeds used by the simchain wallet program
var (
	walletSeed = []byte("wallet")
	configSeed = []byte("config")
	aliasSeed  = []byte("alias")
)

// Instruction names as declared by the on-chain program
const (
	ixInitializeWallet = "initialize_wallet"
	ixSend             = "send"
	ixWithdrawNative   = "withdraw_native"
	ixAddFunds         = "add_funds"
	ixSetAlias         = "set_alias"
)

// Account type names as declared by the on-chain program
const (
	accountWallet = "Wallet"
	accountConfig = "Config"
)

// instructionDiscriminator returns the 8-byte prefix the program dispatches instructions on
func instructionDiscriminator(name string) [8]byte {
	return discriminator("global:" + name)
}

// accountDiscriminator returns the 8-byte prefix that tags an account's type
func accountDiscriminator(name string) [8]byte {
	return discriminator("account:" + name)
}

func discriminator(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// walletAccount is the on-chain state of one SIM wallet
type walletAccount struct {
	SimHash [32]byte
	Balance uint64 // lamports
	Owner   solana.PublicKey
	PinHash [32]byte
	Alias   [32]byte
	Bump    uint8
}

// configAccount is the program-wide configuration holding the identity salt
type configAccount struct {
	Admin solana.PublicKey
	Salt  []byte
}

func decodeAccount(name string, data []byte, into any) error {
	want := accountDiscriminator(name)
	if len(data) < len(want) {
		return fmt.Errorf("account data too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], want[:]) {
		return fmt.Errorf("account is not a %s", name)
	}
	if err := bin.NewBorshDecoder(data[8:]).Decode(into); err != nil {
		return fmt.Errorf("failed to decode %s account: %w", name, err)
	}
	return nil
}

func decodeWalletAccount(data []byte) (*walletAccount, error) {
	var w walletAccount
	if err := decodeAccount(accountWallet, data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func decodeConfigAccount(data []byte) (*configAccount, error) {
	var c configAccount
	if err := decodeAccount(accountConfig, data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func encodeAccount(name string, v any) ([]byte, error) {
	disc := accountDiscriminator(name)
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode %s account: %w", name, err)
	}
	return buf.Bytes(), nil
}

// program builds instructions and addresses for one deployment of the wallet program
type program struct {
	id solana.PublicKey
}

func (p program) configAddress() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{configSeed}, p.id)
	return addr, err
}

func (p program) walletAddress(simHash [32]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{walletSeed, simHash[:]}, p.id)
	return addr, err
}

func (p program) aliasAddress(alias [32]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{aliasSeed, alias[:]}, p.id)
	return addr, err
}

func (p program) instruction(name string, accounts solana.AccountMetaSlice, args any) (solana.Instruction, error) {
	disc := instructionDiscriminator(name)
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if args != nil {
		if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
			return nil, fmt.Errorf("failed to encode %s args: %w", name, err)
		}
	}
	return solana.NewInstruction(p.id, accounts, buf.Bytes()), nil
}

type initializeWalletArgs struct {
	SimHash [32]byte
	PinHash [32]byte
}

func (p program) initializeWallet(wallet, config, authority solana.PublicKey, simHash, pinHash [32]byte) (solana.Instruction, error) {
	return p.instruction(ixInitializeWallet, solana.AccountMetaSlice{
		solana.Meta(wallet).WRITE(),
		solana.Meta(config),
		solana.Meta(authority).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, initializeWalletArgs{SimHash: simHash, PinHash: pinHash})
}

type amountArgs struct {
	Amount uint64
}

func (p program) send(sender, receiver, owner solana.PublicKey, lamports uint64) (solana.Instruction, error) {
	return p.instruction(ixSend, solana.AccountMetaSlice{
		solana.Meta(sender).WRITE(),
		solana.Meta(receiver).WRITE(),
		solana.Meta(owner).SIGNER(),
	}, amountArgs{Amount: lamports})
}

type withdrawArgs struct {
	Amount      uint64
	Destination solana.PublicKey
}

func (p program) withdrawNative(wallet, destination, owner solana.PublicKey, lamports uint64) (solana.Instruction, error) {
	return p.instruction(ixWithdrawNative, solana.AccountMetaSlice{
		solana.Meta(wallet).WRITE(),
		solana.Meta(destination).WRITE(),
		solana.Meta(owner).SIGNER(),
	}, withdrawArgs{Amount: lamports, Destination: destination})
}

func (p program) addFunds(wallet, owner solana.PublicKey, lamports uint64) (solana.Instruction, error) {
	return p.instruction(ixAddFunds, solana.AccountMetaSlice{
		solana.Meta(wallet).WRITE(),
		solana.Meta(owner).WRITE().SIGNER(),
	}, amountArgs{Amount: lamports})
}

type setAliasArgs struct {
	Alias [32]byte
}

func (p program) setAlias(wallet, aliasIndex, owner solana.PublicKey, alias [32]byte) (solana.Instruction, error) {
	return p.instruction(ixSetAlias, solana.AccountMetaSlice{
		solana.Meta(wallet).WRITE(),
		solana.Meta(aliasIndex).WRITE(),
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, setAliasArgs{Alias: alias})
}
