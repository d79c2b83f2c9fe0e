package capability

// Reference capability vocabulary. The runtime treats capabilities as opaque
// strings; these constants cover the attributes and templates shipped here.
const (
	CustomerManagement = "customer_management"

	SellsProducts      = "sells_products"
	SellsServices      = "sells_services"
	ProductCatalog     = "product_catalog"
	ServiceCatalog     = "service_catalog"
	PaymentGateway     = "payment_gateway"
	POSSystem          = "pos_system"
	TableManagement    = "table_management"
	KitchenDisplay     = "kitchen_display"
	DeliveryManagement = "delivery_management"
	OrderTracking      = "order_tracking"
	OnlineStore        = "online_store"
	ShippingManagement = "shipping_management"
	InventoryMgmt      = "inventory_management"
	SupplierManagement = "supplier_management"
	LocationManagement = "location_management"
	AppointmentBooking = "appointment_booking"
	StaffScheduling    = "staff_scheduling"
	StaffManagement    = "staff_management"
	Payroll            = "payroll"
	SubscriptionBill   = "subscription_billing"
	RecurringPayments  = "recurring_payments"
	LoyaltyProgram     = "loyalty_program"
	ProductionPlanning = "production_planning"
	MaterialsMgmt      = "materials_management"
)

// Business attribute names read from the profile store.
const (
	AttrSellsProducts        = "sells_products"
	AttrSellsOnsite          = "sells_products_for_onsite_consumption"
	AttrSellsServices        = "sells_services"
	AttrSellsForDelivery     = "sells_products_for_delivery"
	AttrSellsOnline          = "sells_online"
	AttrManagesInventory     = "manages_inventory"
	AttrHasPhysicalLocation  = "has_physical_location"
	AttrOffersAppointments   = "offers_appointments"
	AttrHasEmployees         = "has_employees"
	AttrOffersSubscriptions  = "offers_subscriptions"
	AttrHasLoyaltyProgram    = "has_loyalty_program"
	AttrManufacturesProducts = "manufactures_products"
)

// CoreCapabilities are always enabled.
var CoreCapabilities = []string{CustomerManagement}

// AttributeCapabilities maps each business attribute to the capabilities it
// enables when true.
var AttributeCapabilities = map[string][]string{
	AttrSellsProducts:        {SellsProducts, ProductCatalog, PaymentGateway},
	AttrSellsOnsite:          {POSSystem, TableManagement, KitchenDisplay},
	AttrSellsServices:        {SellsServices, ServiceCatalog, PaymentGateway},
	AttrSellsForDelivery:     {DeliveryManagement, OrderTracking},
	AttrSellsOnline:          {OnlineStore, PaymentGateway, ShippingManagement},
	AttrManagesInventory:     {InventoryMgmt, SupplierManagement},
	AttrHasPhysicalLocation:  {POSSystem, LocationManagement},
	AttrOffersAppointments:   {AppointmentBooking, StaffScheduling},
	AttrHasEmployees:         {StaffManagement, Payroll},
	AttrOffersSubscriptions:  {SubscriptionBill, RecurringPayments},
	AttrHasLoyaltyProgram:    {LoyaltyProgram},
	AttrManufacturesProducts: {ProductionPlanning, MaterialsMgmt},
}

// BusinessModel names a business-model template.
type BusinessModel string

const (
	BusinessModelRestaurant   BusinessModel = "restaurant"
	BusinessModelRetail       BusinessModel = "retail_store"
	BusinessModelEcommerce    BusinessModel = "ecommerce"
	BusinessModelService      BusinessModel = "service_business"
	BusinessModelManufacturer BusinessModel = "manufacturer"
	BusinessModelSubscription BusinessModel = "subscription_business"
	BusinessModelDelivery     BusinessModel = "delivery_kitchen"

	// BusinessModelCustom is returned when no template reaches the minimum
	// coverage.
	BusinessModelCustom BusinessModel = "custom"
)

// Template is a business-model template and the capabilities it expects.
type Template struct {
	Model    BusinessModel
	Required []string
}

// Templates is evaluated in declaration order; that order is the final
// tie-break of DetectBusinessModel.
var Templates = []Template{
	{Model: BusinessModelRestaurant, Required: []string{SellsProducts, POSSystem, TableManagement, PaymentGateway, KitchenDisplay}},
	{Model: BusinessModelRetail, Required: []string{SellsProducts, POSSystem, InventoryMgmt, PaymentGateway, LocationManagement}},
	{Model: BusinessModelEcommerce, Required: []string{SellsProducts, OnlineStore, PaymentGateway, ShippingManagement, InventoryMgmt}},
	{Model: BusinessModelService, Required: []string{SellsServices, ServiceCatalog, AppointmentBooking, StaffScheduling, PaymentGateway}},
	{Model: BusinessModelManufacturer, Required: []string{SellsProducts, ProductionPlanning, MaterialsMgmt, InventoryMgmt, SupplierManagement}},
	{Model: BusinessModelSubscription, Required: []string{SubscriptionBill, RecurringPayments, PaymentGateway}},
	{Model: BusinessModelDelivery, Required: []string{SellsProducts, DeliveryManagement, OrderTracking, KitchenDisplay, PaymentGateway}},
}

// CommonPairs are capability combinations checked often enough to warm.
var CommonPairs = [][]string{
	{SellsProducts, PaymentGateway},
	{POSSystem, TableManagement},
	{SellsServices, AppointmentBooking},
	{OnlineStore, ShippingManagement},
	{InventoryMgmt, SupplierManagement},
	{StaffManagement, StaffScheduling},
}
