package identity

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"telechat/logger"
	"telechat/service/mgo"
	"telechat/tools/errs"
)

// PlaceholderName is used whenever a profile cannot be resolved; a missing
// profile degrades the display, never the operation.
const PlaceholderName = "Unknown User"

type Profile struct {
	DisplayName string
	Avatar      string
}

// Lookup resolves one class's profiles. One implementation per class; the
// directory dispatches on the class tag.
type Lookup interface {
	Lookup(ctx context.Context, id string) (*Profile, error)
}

type Directory struct {
	byClass map[Class]Lookup
}

func NewDirectory(patients, practitioners, operators Lookup) *Directory {
	return &Directory{byClass: map[Class]Lookup{
		ClassPatient:      patients,
		ClassPractitioner: practitioners,
		ClassOperator:     operators,
	}}
}

// NewMongoDirectory wires the three profile collections of the platform.
func NewMongoDirectory() *Directory {
	return NewDirectory(
		&collLookup{coll: "patients"},
		&collLookup{coll: "practitioners"},
		&collLookup{coll: "operators"},
	)
}

func (d *Directory) Lookup(ctx context.Context, ref Ref) (*Profile, error) {
	l, ok := d.byClass[ref.Class]
	if !ok {
		return nil, errs.ErrNotFound.WithDetail("no profile store for class " + string(ref.Class))
	}
	return l.Lookup(ctx, ref.ID)
}

// DisplayName resolves a name for ref, falling back to a placeholder. It
// never fails the caller.
func (d *Directory) DisplayName(ctx context.Context, ref Ref) string {
	p, err := d.Lookup(ctx, ref)
	if err != nil {
		logger.Debug("profile lookup failed, using placeholder")
		return PlaceholderName
	}
	if p.DisplayName == "" {
		return PlaceholderName
	}
	return p.DisplayName
}

// collLookup reads a display projection from one profile collection. The
// profile stores are external collaborators; this only projects name/avatar.
type collLookup struct {
	coll string
}

type profileDoc struct {
	FullName     string `bson:"full_name"`
	Username     string `bson:"username"`
	ProfileImage string `bson:"profile_image"`
}

func (c *collLookup) Lookup(ctx context.Context, id string) (*Profile, error) {
	db, ok := mgo.TryGetDB()
	if !ok {
		return nil, errs.ErrTransient.WithDetail("profile store unavailable")
	}
	// profile collections key on ObjectID; tokens carry the hex form
	var key any = id
	if oid, oerr := primitive.ObjectIDFromHex(id); oerr == nil {
		key = oid
	}
	var doc profileDoc
	err := db.Collection(c.coll).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errs.ErrNotFound.WithDetail("profile " + id)
		}
		return nil, errs.Wrap(err, "find profile")
	}
	name := doc.FullName
	if name == "" {
		name = doc.Username
	}
	return &Profile{DisplayName: name, Avatar: doc.ProfileImage}, nil
}
