package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/TURRA7/BotShop/internal/conversation"
	"github.com/TURRA7/BotShop/internal/entity"
)

// Flow names the chat layer starts.
const (
	FlowAddProduct    = "add_product"
	FlowAdminTopUp    = "admin_top_up"
	FlowAdminWriteOff = "admin_write_off"
	FlowTopUp         = "top_up"
	FlowReferral      = "referral"
)

// Shop bundles the services the flows complete into.
type Shop struct {
	Users      *UserService
	Ledger     *LedgerService
	Catalog    *CatalogService
	Cart       *CartService
	Settlement *SettlementService
	Payments   *PaymentService
}

// RegisterFlows installs every dialog the shop offers on the engine.
func RegisterFlows(e *conversation.Engine, shop Shop) error {
	flows := []conversation.Flow{
		{
			Name:       FlowAddProduct,
			Restricted: true,
			Steps: []conversation.Step{
				{Field: "name", Prompt: "Enter the product name.", Validate: conversation.NonEmptyText("The name cannot be empty.")},
				{Field: "description", Prompt: "Enter the product description.", Validate: conversation.NonEmptyText("The description cannot be empty.")},
				{Field: "price", Prompt: "Enter the price.", Validate: conversation.Amount(entity.MaxAmount)},
				{Field: "image", Prompt: "Send a picture of the product.", Validate: conversation.Image},
			},
			Complete: func(ctx context.Context, _ int64, f conversation.Fields) (string, error) {
				price, err := f.Decimal("price")
				if err != nil {
					return "", err
				}
				p, err := shop.Catalog.AddProduct(ctx, NewProduct{
					Name:        f.String("name"),
					Description: f.String("description"),
					Price:       price,
					ImageRef:    f.String("image"),
				})
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Product %q added with price %s.", p.Name, p.Price.StringFixed(2)), nil
			},
		},
		adminBalanceFlow(FlowAdminTopUp, "How much should be credited?", shop.Ledger.Credit),
		adminBalanceFlow(FlowAdminWriteOff, "How much should be written off?", shop.Ledger.Debit),
		{
			Name: FlowTopUp,
			Steps: []conversation.Step{
				{Field: "amount", Prompt: "How much do you want to top up?", Validate: conversation.Amount(entity.MaxAmount)},
			},
			Complete: func(ctx context.Context, userID int64, f conversation.Fields) (string, error) {
				amount, err := f.Decimal("amount")
				if err != nil {
					return "", err
				}
				link, err := shop.Payments.StartTopUp(ctx, userID, amount)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Pay %s here: %s", link.Amount.StringFixed(2), link.RedirectURL), nil
			},
		},
		{
			Name: FlowReferral,
			Steps: []conversation.Step{
				{Field: "code", Prompt: "Enter the referral code.", Validate: conversation.ReferralCode},
			},
			Complete: func(ctx context.Context, userID int64, f conversation.Fields) (string, error) {
				if _, err := shop.Users.ApplyReferral(ctx, userID, f.String("code")); err != nil {
					return "", err
				}
				return "Referral code applied.", nil
			},
		},
	}

	for _, flow := range flows {
		if err := e.Register(flow); err != nil {
			return err
		}
	}
	return nil
}

type balanceMutation func(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error)

func adminBalanceFlow(name, amountPrompt string, mutate balanceMutation) conversation.Flow {
	return conversation.Flow{
		Name:       name,
		Restricted: true,
		Steps: []conversation.Step{
			{Field: "user", Prompt: "Enter the user id.", Validate: conversation.PositiveID},
			{Field: "amount", Prompt: amountPrompt, Validate: conversation.Amount(entity.MaxAmount)},
		},
		Complete: func(ctx context.Context, _ int64, f conversation.Fields) (string, error) {
			target, err := f.Int64("user")
			if err != nil {
				return "", err
			}
			amount, err := f.Decimal("amount")
			if err != nil {
				return "", err
			}
			balance, err := mutate(ctx, target, amount)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Balance of user %d is now %s.", target, balance.StringFixed(2)), nil
		},
	}
}
