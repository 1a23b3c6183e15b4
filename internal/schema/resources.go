package schema

// Back-end services.
const (
	AgentAPI       = "agent-api"
	CollectionAPI  = "collection-api"
	ObjectStoreAPI = "objectstore-api"
)

// Resource types.
const (
	TypePerson             = "person"
	TypeIdentifier         = "identifier"
	TypeOrganization       = "organization"
	TypeMaterialSample     = "material-sample"
	TypeCollectingEvent    = "collecting-event"
	TypeAcquisitionEvent   = "acquisition-event"
	TypeOrganism           = "organism"
	TypeCollection         = "collection"
	TypeStorageUnit        = "storage-unit"
	TypePreparationType    = "preparation-type"
	TypePreparationMethod  = "preparation-method"
	TypeProtocol           = "protocol"
	TypeProject            = "project"
	TypeMetadata           = "metadata"
	TypeMaterialSampleType = "material-sample-type"
)

// Person is an agent with organizations and save-first identifiers.
var Person = New(TypePerson, AgentAPI,
	Field{Name: "displayName", Rules: "required,max=250"},
	Field{Name: "email", Rules: "omitempty,email"},
	Field{Name: "givenNames", Rules: "omitempty,max=150"},
	Field{Name: "familyNames", Rules: "omitempty,max=150"},
	Field{Name: "aliases"},
	Field{Name: "webpage", Rules: "omitempty,url"},
	Field{Name: "remarks"},
	Field{Name: "organizations", Kind: ToMany, Target: TypeOrganization},
	Field{Name: "identifiers", Kind: ToMany, Target: TypeIdentifier, Nested: true},
)

// Identifier is an external identifier of a person.
var Identifier = New(TypeIdentifier, AgentAPI,
	Field{Name: "namespace", Rules: "required,max=50"},
	Field{Name: "value", Rules: "required"},
)

// Organization is only linked from persons; it is never saved through the pipeline.
var Organization = New(TypeOrganization, AgentAPI,
	Field{Name: "names"},
	Field{Name: "aliases"},
)

// CollectingEvent is the nested collecting event sub-form.
var CollectingEvent = New(TypeCollectingEvent, CollectionAPI,
	Field{Name: "group", Rules: "required"},
	Field{Name: "startEventDateTime", Rules: "required"},
	Field{Name: "endEventDateTime"},
	Field{Name: "verbatimEventDateTime"},
	Field{Name: "dwcFieldNumber"},
	Field{Name: "dwcRecordNumber"},
	Field{Name: "dwcOtherRecordNumbers"},
	Field{Name: "dwcVerbatimLocality"},
	Field{Name: "dwcVerbatimLatitude"},
	Field{Name: "dwcVerbatimLongitude"},
	Field{Name: "dwcVerbatimCoordinateSystem"},
	Field{Name: "dwcVerbatimSRS"},
	Field{Name: "dwcVerbatimElevation"},
	Field{Name: "dwcVerbatimDepth"},
	Field{Name: "dwcRecordedBy"},
	Field{Name: "dwcCountry"},
	Field{Name: "dwcCountryCode", Rules: "omitempty,len=2"},
	Field{Name: "dwcStateProvince"},
	Field{Name: "habitat"},
	Field{Name: "host"},
	Field{Name: "remarks"},
	Field{Name: "publiclyReleasable"},
	Field{Name: "notPubliclyReleasableReason"},
	Field{Name: "tags"},
	Field{Name: "geoReferenceAssertions"},
	Field{Name: "geographicPlaceNameSource"},
	Field{Name: "geographicPlaceNameSourceDetail"},
	Field{Name: "managedAttributes"},
	Field{Name: "collectionMethod", Kind: ToOne, Target: "collection-method"},
	Field{Name: "protocol", Kind: ToOne, Target: TypeProtocol},
	Field{Name: "collectors", Kind: ToMany, Target: TypePerson},
	Field{Name: "attachment", Kind: ToMany, Target: TypeMetadata},
)

// AcquisitionEvent is the nested acquisition event sub-form.
var AcquisitionEvent = New(TypeAcquisitionEvent, CollectionAPI,
	Field{Name: "group", Rules: "required"},
	Field{Name: "receivedFrom"},
	Field{Name: "receivedDate"},
	Field{Name: "receptionRemarks"},
	Field{Name: "isolatedBy"},
	Field{Name: "isolatedOn"},
	Field{Name: "isolationRemarks"},
	Field{Name: "externalSampleID"},
)

// Organism is an organism row of a material sample, saved before the sample.
var Organism = New(TypeOrganism, CollectionAPI,
	Field{Name: "group"},
	Field{Name: "lifeStage"},
	Field{Name: "sex"},
	Field{Name: "remarks"},
	Field{Name: "isTarget"},
	Field{Name: "dwcVernacularName"},
	Field{Name: "determination"},
)

// MaterialSample is the composite resource edited through sessions.
var MaterialSample = New(TypeMaterialSample, CollectionAPI,
	Field{Name: "group", Rules: "required"},
	Field{Name: "materialSampleName", Rules: "omitempty,max=1024"},
	Field{Name: "dwcCatalogNumber"},
	Field{Name: "dwcOtherCatalogNumbers"},
	Field{Name: "barcode"},
	Field{Name: "publiclyReleasable"},
	Field{Name: "notPubliclyReleasableReason"},
	Field{Name: "tags"},
	Field{Name: "materialSampleState"},
	Field{Name: "materialSampleRemarks"},
	Field{Name: "stateChangedOn"},
	Field{Name: "stateChangeRemarks"},
	Field{Name: "isRestricted"},
	Field{Name: "restrictionRemarks"},
	Field{Name: "managedAttributes"},
	Field{Name: "preparationDate"},
	Field{Name: "preparationRemarks"},
	Field{Name: "dwcDegreeOfEstablishment"},
	Field{Name: "preservationType"},
	Field{Name: "preparationFixative"},
	Field{Name: "preparationMaterials"},
	Field{Name: "preparationSubstrate"},
	Field{Name: "preparationManagedAttributes"},
	Field{Name: "determination"},
	Field{Name: "scheduledActions"},
	Field{Name: "associations"},
	Field{Name: "hostOrganism"},
	Field{Name: "collection", Kind: ToOne, Target: TypeCollection},
	Field{Name: "materialSampleType", Kind: ToOne, Target: TypeMaterialSampleType},
	Field{Name: "parentMaterialSample", Kind: ToOne, Target: TypeMaterialSample},
	Field{Name: "collectingEvent", Kind: ToOne, Target: TypeCollectingEvent},
	Field{Name: "acquisitionEvent", Kind: ToOne, Target: TypeAcquisitionEvent},
	Field{Name: "storageUnit", Kind: ToOne, Target: TypeStorageUnit},
	Field{Name: "preparationType", Kind: ToOne, Target: TypePreparationType},
	Field{Name: "preparationMethod", Kind: ToOne, Target: TypePreparationMethod},
	Field{Name: "preparationProtocol", Kind: ToOne, Target: TypeProtocol},
	Field{Name: "preparedBy", Kind: ToMany, Target: TypePerson},
	Field{Name: "projects", Kind: ToMany, Target: TypeProject},
	Field{Name: "attachment", Kind: ToMany, Target: TypeMetadata},
	Field{Name: "preparationAttachment", Kind: ToMany, Target: TypeMetadata},
	Field{Name: "organism", Kind: ToMany, Target: TypeOrganism, Nested: true},
)

var registry = map[string]*Schema{}

func init() {
	for _, s := range []*Schema{Person, Identifier, Organization, CollectingEvent, AcquisitionEvent, Organism, MaterialSample} {
		registry[s.Type] = s
	}
}

// Lookup returns the schema registered for a resource type.
func Lookup(typ string) (*Schema, bool) {
	s, ok := registry[typ]
	return s, ok
}
