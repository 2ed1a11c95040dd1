package keypool

// SupportedRegions 列出密钥可以归属的 Azure 认知服务区域代码。
// 空串是合法取值，表示该密钥可服务任意区域（通配密钥）。
var SupportedRegions = []string{
	"eastasia", "southeastasia",
	"japaneast", "japanwest",
	"koreacentral",
	"australiaeast",
	"centralindia",
	"eastus", "eastus2", "westus", "westus2", "westus3",
	"centralus", "northcentralus", "southcentralus", "westcentralus",
	"canadacentral",
	"brazilsouth",
	"northeurope", "westeurope",
	"uksouth",
	"francecentral", "germanywestcentral", "switzerlandnorth", "swedencentral",
	"uaenorth", "southafricanorth",
}

var supportedRegionSet = func() map[string]bool {
	m := make(map[string]bool, len(SupportedRegions))
	for _, r := range SupportedRegions {
		m[r] = true
	}
	return m
}()

// ValidRegion 判断区域代码是否受支持。空串（通配）也视为合法。
func ValidRegion(region string) bool {
	return region == "" || supportedRegionSet[region]
}
