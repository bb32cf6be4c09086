package network

import (
	"context"
	"net/http"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// PairEndpoint is one side of a backup network pair: an interface address on
// a client or a client group.
type PairEndpoint struct {
	IP            string
	ClientID      int
	ClientGroupID int
}

// InterfacePair routes backup traffic from Source to Destination.
type InterfacePair struct {
	Source      PairEndpoint
	Destination PairEndpoint
}

type pairClient struct {
	Name string           `json:"name"`
	ID   commcell.FlexInt `json:"id"`
}

// ArchPipeline is one backup network pair as carried on the wire.
type ArchPipeline struct {
	DestGroupID commcell.FlexInt `json:"destGroupId"`
	SrcGroupID  commcell.FlexInt `json:"srcGroupId"`
	IsActive    commcell.FlexInt `json:"isActive"`
	Client1     pairClient       `json:"client1"`
	Client2     pairClient       `json:"client2"`
}

type pairsRequest struct {
	OperationType string         `json:"operationType"`
	Pipelines     []ArchPipeline `json:"ArchPipeLineList"`
}

// BackupNetworkPairs manages the data interface pairs between clients.
type BackupNetworkPairs struct {
	cc *commcell.Commcell
}

func NewBackupNetworkPairs(cc *commcell.Commcell) *BackupNetworkPairs {
	return &BackupNetworkPairs{cc: cc}
}

// Pairs returns the backup interface pairs of a client. A client without
// pairs yields an empty list.
func (b *BackupNetworkPairs) Pairs(ctx context.Context, clientID int) ([]ArchPipeline, error) {
	resp, err := b.cc.Request(ctx, http.MethodGet, commcell.BackupNetworkPairs.URL(clientID), nil)
	if err != nil {
		return nil, err
	}
	if resp.Empty() {
		return nil, nil
	}
	var body struct {
		Pipelines []ArchPipeline `json:"ArchPipeLineList"`
	}
	if err := commcell.Decode(resp, &body); err != nil {
		return nil, err
	}
	return body.Pipelines, nil
}

// Add creates the given interface pairs.
func (b *BackupNetworkPairs) Add(ctx context.Context, pairs []InterfacePair) error {
	return b.modify(ctx, pairs, "ADD")
}

// Delete removes the given interface pairs.
func (b *BackupNetworkPairs) Delete(ctx context.Context, pairs []InterfacePair) error {
	return b.modify(ctx, pairs, "DELETE")
}

func (b *BackupNetworkPairs) modify(ctx context.Context, pairs []InterfacePair, op string) error {
	if len(pairs) == 0 {
		return sdkerrors.Precondition(sdkerrors.ModuleBackupNetworkPairs, "101",
			"Interface Pairs should be a list of tuples containing dictionary of source and destination")
	}
	req := pairsRequest{OperationType: op}
	for _, p := range pairs {
		req.Pipelines = append(req.Pipelines, ArchPipeline{
			DestGroupID: commcell.FlexInt(p.Destination.ClientGroupID),
			SrcGroupID:  commcell.FlexInt(p.Source.ClientGroupID),
			IsActive:    1,
			Client1:     pairClient{Name: p.Source.IP, ID: commcell.FlexInt(p.Source.ClientID)},
			Client2:     pairClient{Name: p.Destination.IP, ID: commcell.FlexInt(p.Destination.ClientID)},
		})
	}

	resp, err := b.cc.Request(ctx, http.MethodPost, commcell.BackupNetworkPair.URL(), req)
	if err != nil {
		return errors.Trace(err)
	}
	if resp.Empty() {
		return nil
	}
	var status commcell.TopLevelStatus
	if err := commcell.Decode(resp, &status); err != nil {
		return err
	}
	if status.ErrorCode.Int() != 0 {
		return sdkerrors.Application(sdkerrors.ModuleBackupNetworkPairs, "101", "Failed to set network pairs")
	}
	return nil
}
